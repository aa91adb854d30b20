package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const googleDocMimeType = "application/vnd.google-apps.document"

// Uploader mirrors artifacts into a Drive folder. Plain-text artifacts are
// converted to Google Docs; everything else is stored as-is. Re-putting a key
// updates the file created for it earlier in the process lifetime.
type Uploader struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewUploader(ctx context.Context, credPath, folderID string) (*Uploader, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return NewUploaderWithOptions(ctx, folderID, option.WithCredentials(config))
}

func NewUploaderWithOptions(ctx context.Context, folderID string, opts ...option.ClientOption) (*Uploader, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Uploader{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

func (u *Uploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	media := googleapi.ContentType(contentType)

	if fileID, ok := u.fileIDs[key]; ok {
		_, err := u.service.Files.Update(fileID, &drive.File{}).Media(bytes.NewReader(data), media).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update %s: %w", key, err)
		}
		return nil
	}

	file := &drive.File{
		Name:    path.Base(key),
		Parents: []string{u.folderID},
	}
	if contentType == "text/plain" {
		file.MimeType = googleDocMimeType
	}

	created, err := u.service.Files.Create(file).Media(bytes.NewReader(data), media).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", key, err)
	}

	u.fileIDs[key] = created.Id
	return nil
}
