package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjawhar/diarist/internal/config"
	"github.com/sjawhar/diarist/internal/gdrive"
	"github.com/sjawhar/diarist/internal/llm"
	"github.com/sjawhar/diarist/internal/naming"
	"github.com/sjawhar/diarist/internal/pipeline"
	"github.com/sjawhar/diarist/internal/report"
	"github.com/sjawhar/diarist/internal/server"
	"github.com/sjawhar/diarist/internal/storage"
	"github.com/sjawhar/diarist/internal/transcribe"
)

const usage = `usage:
  diarist process [-config path] [-format aws|deepgram] [-base name] <transcript>
  diarist serve [-config path] [-addr host:port]`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("diarist: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "process":
		return runProcess(ctx, args[1:], stdout)
	case "serve":
		return runServe(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func runProcess(ctx context.Context, args []string, stdout io.Writer) error {
	fset := flag.NewFlagSet("process", flag.ContinueOnError)
	configPath := fset.String("config", defaultConfigPath(), "path to YAML config")
	formatName := fset.String("format", "aws", "transcript format: aws or deepgram")
	base := fset.String("base", "", "base filename for outputs")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return errors.New(usage)
	}

	format, err := pipeline.ParseFormat(*formatName)
	if err != nil {
		return err
	}

	path := fset.Arg(0)
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.Run(ctx, pipeline.Request{
		SourceKey:    path,
		BaseFilename: *base,
		Document:     doc,
		Format:       format,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}

func runServe(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fset.String("config", defaultConfigPath(), "path to YAML config")
	addr := fset.String("addr", "", "listen address (overrides listen_addr)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	log.Println("diarist: starting")

	hub := server.NewHub()
	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	httpServer := server.New(cfg.ListenAddr, hub, server.Deps{
		Runs:     a.runs,
		Blobs:    a.blobs,
		Runner:   a.pipeline,
		Warnings: a.warnings,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Printf("diarist: API on %s", cfg.ListenAddr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("diarist: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
	return nil
}

type app struct {
	runs     *storage.SQLiteStore
	blobs    storage.BlobStore
	pipeline *pipeline.Pipeline
	warnings []string
}

func newApp(ctx context.Context, cfg config.Config, events pipeline.EventSink) (*app, error) {
	runs, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	a := &app{runs: runs}

	var blobs storage.BlobStore = storage.NewDirStore(cfg.DataDir)
	if cfg.GDriveFolderID != "" {
		uploader, err := gdrive.NewUploader(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("warning: gdrive mirror disabled: %v", err)
			a.warnings = append(a.warnings, "Google Drive mirror disabled: "+err.Error())
		} else {
			blobs = storage.NewMirror(blobs, uploader)
		}
	}
	a.blobs = blobs

	opts := []pipeline.Option{pipeline.WithRunStore(runs)}
	if events != nil {
		opts = append(opts, pipeline.WithEvents(events))
	}

	namingClient, err := newLLMClient(cfg, cfg.Naming.Model, llm.WithMaxTokens(naming.MaxTokens), llm.WithTemperature(naming.Temperature), llm.WithJSONOutput())
	if err != nil {
		log.Printf("warning: speaker naming disabled: %v", err)
		a.warnings = append(a.warnings, "speaker naming disabled: "+err.Error())
	} else {
		opts = append(opts, pipeline.WithNamer(naming.New(namingClient, cfg.ParsedNamingTimeout())))
	}

	if cfg.Report.Enabled {
		reportClient, err := newLLMClient(cfg, cfg.Report.Model, llm.WithMaxTokens(report.MaxTokens))
		if err != nil {
			log.Printf("warning: hearing reports disabled: %v", err)
			a.warnings = append(a.warnings, "hearing reports disabled: "+err.Error())
		} else {
			opts = append(opts, pipeline.WithReporter(report.New(reportClient, runs)))
		}
	}

	a.pipeline = pipeline.New(blobs, pipeline.Options{
		Transform:    transcribe.Options{SegmentGap: cfg.SegmentGapSeconds},
		CoalesceGap:  cfg.CoalesceGapSeconds,
		BlankLines:   cfg.BlankLines,
		OutputPrefix: cfg.OutputPrefix,
		ReportPrefix: cfg.ReportPrefix,
		RenderPDF:    cfg.RenderPDF,
	}, opts...)

	return a, nil
}

func (a *app) Close() {
	_ = a.runs.Close()
}

func newLLMClient(cfg config.Config, modelStr string, opts ...llm.Option) (llm.Client, error) {
	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		return nil, err
	}
	key := cfg.APIKey(provider)
	if llm.NeedsAPIKey(provider) && key == "" {
		return nil, fmt.Errorf("no API key for provider %q", provider)
	}
	return llm.NewClient(provider, key, model, opts...)
}

func loadConfig(path string) (config.Config, error) {
	cfg, warnings, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	if v := os.Getenv(config.EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}
