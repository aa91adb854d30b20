package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/diarist/internal/render"
	"github.com/sjawhar/diarist/internal/report"
	"github.com/sjawhar/diarist/internal/storage"
	"github.com/sjawhar/diarist/internal/transcribe"
)

const (
	DefaultBaseFilename = "Legislative_Meeting_Output"
	DefaultOutputPrefix = "diarized-transcription/"
	DefaultReportPrefix = "final-reports/"

	previewLength = 1000
)

type Format string

const (
	FormatAWS      Format = "aws"
	FormatDeepgram Format = "deepgram"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAWS:
		return FormatAWS, nil
	case FormatDeepgram:
		return f, nil
	default:
		return "", fmt.Errorf("unknown transcript format %q: supported formats are aws, deepgram", s)
	}
}

type Request struct {
	// SourceKey names the transcript in the blob store. It is read only when
	// Document is nil.
	SourceKey    string
	BaseFilename string
	Document     []byte
	Format       Format
}

type Result struct {
	RunID          string   `json:"run_id"`
	BaseFilename   string   `json:"base_filename"`
	TextKey        string   `json:"text_key"`
	RecordsKey     string   `json:"records_key"`
	PDFKey         string   `json:"pdf_key,omitempty"`
	ReportKey      string   `json:"report_key,omitempty"`
	ReportJSONKey  string   `json:"report_json_key,omitempty"`
	Preview        string   `json:"preview"`
	UtteranceCount int      `json:"utterance_count"`
	SpeakerCount   int      `json:"speaker_count"`
	NamedSpeakers  int      `json:"named_speakers"`
	Duplicates     int      `json:"duplicates"`
	Warnings       []string `json:"warnings"`
}

type RunStore interface {
	CreateRun(id, baseFilename, sourceKey string, createdAt time.Time) error
	FinishRun(id string, out storage.RunOutput, finishedAt time.Time) error
	FailRun(id, reason string, finishedAt time.Time) error
	AppendUtterances(runID string, utterances []transcribe.Utterance, names transcribe.SpeakerMap) error
	SetReport(id, reportKey string) error
}

type Namer interface {
	Resolve(ctx context.Context, compact string) transcribe.SpeakerMap
}

type Reporter interface {
	Generate(ctx context.Context, runID, transcript string) (string, error)
}

type EventSink interface {
	BroadcastRunStarted(runID, baseFilename string)
	BroadcastRunCompleted(runID string, utterances, speakers int, warnings []string)
	BroadcastRunFailed(runID, reason string)
}

type Options struct {
	Transform    transcribe.Options
	CoalesceGap  *float64
	BlankLines   int
	OutputPrefix string
	ReportPrefix string
	RenderPDF    bool
}

type Option func(*Pipeline)

func WithRunStore(s RunStore) Option { return func(p *Pipeline) { p.runs = s } }

func WithNamer(n Namer) Option { return func(p *Pipeline) { p.namer = n } }

func WithReporter(r Reporter) Option { return func(p *Pipeline) { p.reporter = r } }

func WithEvents(e EventSink) Option { return func(p *Pipeline) { p.events = e } }

// Pipeline turns one ASR document into a readable transcript, a record stream
// and, optionally, a PDF and a hearing report.
type Pipeline struct {
	blobs    storage.BlobStore
	runs     RunStore
	namer    Namer
	reporter Reporter
	events   EventSink
	opts     Options
	now      func() time.Time
	newID    func() string
}

func New(blobs storage.BlobStore, opts Options, options ...Option) *Pipeline {
	if opts.OutputPrefix == "" {
		opts.OutputPrefix = DefaultOutputPrefix
	}
	if opts.ReportPrefix == "" {
		opts.ReportPrefix = DefaultReportPrefix
	}
	p := &Pipeline{
		blobs: blobs,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{
		RunID:        p.newID(),
		BaseFilename: BaseFilename(req.SourceKey, req.BaseFilename),
	}

	if p.runs != nil {
		if err := p.runs.CreateRun(res.RunID, res.BaseFilename, req.SourceKey, p.now()); err != nil {
			return res, fmt.Errorf("create run: %w", err)
		}
	}
	if p.events != nil {
		p.events.BroadcastRunStarted(res.RunID, res.BaseFilename)
	}

	if err := p.run(ctx, req, &res); err != nil {
		p.fail(res.RunID, err)
		return res, err
	}

	if p.events != nil {
		p.events.BroadcastRunCompleted(res.RunID, res.UtteranceCount, res.SpeakerCount, res.Warnings)
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, res *Result) error {
	doc := req.Document
	if doc == nil {
		if req.SourceKey == "" {
			return errors.New("no transcript document or source key")
		}
		data, err := p.blobs.Get(ctx, req.SourceKey)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}
		doc = data
	}

	tr, err := p.transform(doc, req.Format)
	if err != nil {
		return err
	}
	res.Duplicates = tr.Duplicates
	res.Warnings = append([]string{}, tr.Warnings...)

	// The oracle only needs the compact view of the uncoalesced utterances, so
	// it runs alongside coalescing.
	var names transcribe.SpeakerMap
	var coalesced []transcribe.Utterance
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names = p.resolve(gctx, render.Compact(tr.Utterances))
		return nil
	})
	g.Go(func() error {
		coalesced = transcribe.Coalesce(tr.Utterances, p.opts.CoalesceGap)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	text := render.Readable(coalesced, names, p.opts.BlankLines)
	records, err := render.RecordsString(tr.Utterances, names)
	if err != nil {
		return fmt.Errorf("render records: %w", err)
	}

	res.TextKey = p.opts.OutputPrefix + res.BaseFilename + "_diarized.txt"
	res.RecordsKey = p.opts.OutputPrefix + res.BaseFilename + "_diarized.jsonl"
	if err := p.blobs.Put(ctx, res.TextKey, []byte(text), "text/plain"); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := p.blobs.Put(ctx, res.RecordsKey, []byte(records), "application/jsonl"); err != nil {
		return fmt.Errorf("write records: %w", err)
	}

	if p.opts.RenderPDF {
		var buf bytes.Buffer
		if err := render.PDF(&buf, res.BaseFilename, coalesced, names); err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
		res.PDFKey = p.opts.OutputPrefix + res.BaseFilename + "_diarized.pdf"
		if err := p.blobs.Put(ctx, res.PDFKey, buf.Bytes(), "application/pdf"); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}

	res.Preview = preview(text)
	res.UtteranceCount = len(tr.Utterances)
	res.SpeakerCount, res.NamedSpeakers = countSpeakers(tr.Utterances, names)

	if p.runs != nil {
		if err := p.runs.AppendUtterances(res.RunID, tr.Utterances, names); err != nil {
			return fmt.Errorf("store utterances: %w", err)
		}
	}

	p.report(ctx, text, res)

	if p.runs != nil {
		out := storage.RunOutput{
			TextKey:        res.TextKey,
			RecordsKey:     res.RecordsKey,
			UtteranceCount: res.UtteranceCount,
			SpeakerCount:   res.SpeakerCount,
			Warnings:       res.Warnings,
		}
		if err := p.runs.FinishRun(res.RunID, out, p.now()); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if res.ReportKey != "" {
			if err := p.runs.SetReport(res.RunID, res.ReportKey); err != nil {
				return fmt.Errorf("record report: %w", err)
			}
		}
	}

	slog.Info("pipeline: run completed",
		"run_id", res.RunID,
		"base_filename", res.BaseFilename,
		"utterances", res.UtteranceCount,
		"speakers", res.SpeakerCount,
		"named", res.NamedSpeakers,
	)
	return nil
}

func (p *Pipeline) transform(doc []byte, format Format) (transcribe.Result, error) {
	switch format {
	case "", FormatAWS:
		return transcribe.Transform(doc, p.opts.Transform)
	case FormatDeepgram:
		return transcribe.TransformDeepgram(bytes.NewReader(doc), p.opts.Transform)
	default:
		return transcribe.Result{}, fmt.Errorf("unknown transcript format %q", format)
	}
}

func (p *Pipeline) resolve(ctx context.Context, compact string) transcribe.SpeakerMap {
	if p.namer == nil || compact == "" {
		return transcribe.SpeakerMap{}
	}
	names := p.namer.Resolve(ctx, compact)
	if names == nil {
		return transcribe.SpeakerMap{}
	}
	return names
}

// report never fails the run; problems become warnings.
func (p *Pipeline) report(ctx context.Context, text string, res *Result) {
	if p.reporter == nil {
		return
	}

	out, err := p.reporter.Generate(ctx, res.RunID, text)
	if err != nil {
		slog.Warn("pipeline: hearing report failed", "run_id", res.RunID, "error", err)
		res.Warnings = append(res.Warnings, "hearing report failed: "+err.Error())
		return
	}
	if out == "" {
		return
	}

	sections, err := json.MarshalIndent(report.ParseSections(out), "", "  ")
	if err != nil {
		slog.Warn("pipeline: encode report sections failed", "run_id", res.RunID, "error", err)
		res.Warnings = append(res.Warnings, "hearing report sections could not be encoded")
		return
	}

	textKey := p.opts.ReportPrefix + res.BaseFilename + "_Summary.txt"
	jsonKey := p.opts.ReportPrefix + res.BaseFilename + "_Summary.json"
	if err := p.blobs.Put(ctx, textKey, []byte(out), "text/plain"); err != nil {
		slog.Warn("pipeline: write report failed", "run_id", res.RunID, "error", err)
		res.Warnings = append(res.Warnings, "hearing report could not be written")
		return
	}
	if err := p.blobs.Put(ctx, jsonKey, sections, "application/json"); err != nil {
		slog.Warn("pipeline: write report sections failed", "run_id", res.RunID, "error", err)
		res.Warnings = append(res.Warnings, "hearing report sections could not be written")
	} else {
		res.ReportJSONKey = jsonKey
	}
	res.ReportKey = textKey
}

func (p *Pipeline) fail(runID string, err error) {
	slog.Error("pipeline: run failed", "run_id", runID, "error", err)
	if p.runs != nil {
		if ferr := p.runs.FailRun(runID, err.Error(), p.now()); ferr != nil {
			slog.Warn("pipeline: mark run failed", "run_id", runID, "error", ferr)
		}
	}
	if p.events != nil {
		p.events.BroadcastRunFailed(runID, err.Error())
	}
}

// BaseFilename names a run's artifacts: the explicit name if given, else the
// source key's file name without extension.
func BaseFilename(sourceKey, explicit string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if sourceKey == "" {
		return DefaultBaseFilename
	}
	name := path.Base(strings.ReplaceAll(sourceKey, "\\", "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return DefaultBaseFilename
	}
	return name
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLength {
		return text
	}
	return string(r[:previewLength])
}

func countSpeakers(utterances []transcribe.Utterance, names transcribe.SpeakerMap) (speakers, named int) {
	seen := make(map[string]struct{})
	for _, u := range utterances {
		if _, ok := seen[u.SpeakerLabel]; ok {
			continue
		}
		seen[u.SpeakerLabel] = struct{}{}
		if _, ok := names.Name(u.SpeakerLabel); ok {
			named++
		}
	}
	return len(seen), named
}
