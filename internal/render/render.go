package render

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sjawhar/diarist/internal/transcribe"
)

// DefaultBlankLines separates speaker blocks in the readable transcript.
const DefaultBlankLines = 2

// Compact is the label-only view sent to the naming oracle, one utterance per
// line.
func Compact(utterances []transcribe.Utterance) string {
	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, fmt.Sprintf("[%s] %s", u.SpeakerLabel, u.Text))
	}
	return strings.Join(lines, "\n")
}

// Readable renders "**Name:** text" blocks separated by blankLines empty
// lines, with a trailing newline.
func Readable(utterances []transcribe.Utterance, names transcribe.SpeakerMap, blankLines int) string {
	if blankLines < 0 {
		blankLines = 0
	}

	blocks := make([]string, 0, len(utterances))
	for _, u := range utterances {
		blocks = append(blocks, fmt.Sprintf("**%s:** %s", names.DisplayName(u.SpeakerLabel), u.Text))
	}
	return strings.Join(blocks, strings.Repeat("\n", blankLines+1)) + "\n"
}

// Record is one line of the analytics stream. SpeakerName is nil when the
// label has no resolved name.
type Record struct {
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	SpeakerLabel string  `json:"speaker_label"`
	SpeakerName  *string `json:"speaker_name"`
	Text         string  `json:"text"`
}

func (r Record) Utterance() transcribe.Utterance {
	return transcribe.Utterance{
		SpeakerLabel: r.SpeakerLabel,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Text:         r.Text,
	}
}

func NewRecords(utterances []transcribe.Utterance, names transcribe.SpeakerMap) []Record {
	records := make([]Record, 0, len(utterances))
	for _, u := range utterances {
		rec := Record{
			StartTime:    u.StartTime,
			EndTime:      u.EndTime,
			SpeakerLabel: u.SpeakerLabel,
			Text:         u.Text,
		}
		if name, ok := names.Name(u.SpeakerLabel); ok {
			rec.SpeakerName = &name
		}
		records = append(records, rec)
	}
	return records
}

// Records writes one JSON object per utterance per line.
func Records(w io.Writer, utterances []transcribe.Utterance, names transcribe.SpeakerMap) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range NewRecords(utterances, names) {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return nil
}

// RecordsString is Records into a string.
func RecordsString(utterances []transcribe.Utterance, names transcribe.SpeakerMap) (string, error) {
	var buf bytes.Buffer
	if err := Records(&buf, utterances, names); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParseRecords reads a record stream written by Records.
func ParseRecords(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}
