package naming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/sjawhar/diarist/internal/llm"
	"github.com/sjawhar/diarist/internal/transcribe"
)

const (
	DefaultTimeout = 2 * time.Minute

	// MaxTokens and Temperature are the completion settings naming clients
	// should be built with.
	MaxTokens   = 1024
	Temperature = 0.0
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

var errNoObject = errors.New("no JSON object in reply")

// Oracle asks a language model to map diarization labels to the names and
// titles that appear in the transcript itself.
type Oracle struct {
	client  llm.Client
	timeout time.Duration
}

func New(client llm.Client, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Oracle{client: client, timeout: timeout}
}

// Resolve never fails. Any problem with the call or the reply yields an empty
// map, which renders every speaker as unknown.
func (o *Oracle) Resolve(ctx context.Context, compact string) transcribe.SpeakerMap {
	if strings.TrimSpace(compact) == "" || o == nil || o.client == nil {
		return transcribe.SpeakerMap{}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.client.Complete(ctx, []llm.Message{{Role: "user", Content: Prompt(compact)}})
	if err != nil {
		slog.Warn("naming: falling back to empty speaker map", "reason", "llm complete failed", "error", err)
		return transcribe.SpeakerMap{}
	}

	names, err := ParseMapping(reply)
	if err != nil {
		slog.Warn("naming: falling back to empty speaker map", "reason", "unparseable reply", "error", err)
		return transcribe.SpeakerMap{}
	}
	return names
}

// ParseMapping pulls the outermost JSON object out of a model reply. Values
// that are not non-empty strings, or that name the unknown speaker, are left
// out of the result.
func ParseMapping(reply string) (transcribe.SpeakerMap, error) {
	span := jsonObject.FindString(reply)
	if span == "" {
		return nil, errNoObject
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}

	names := make(transcribe.SpeakerMap, len(raw))
	for label, v := range raw {
		name, ok := v.(string)
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == transcribe.UnknownSpeaker {
			continue
		}
		names[label] = name
	}
	return names, nil
}

func Prompt(compact string) string {
	return fmt.Sprintf(`You are an expert legislative-hearing analyst. Your task is to map generic diarization labels (e.g., [spk_0], [spk_1]) to actual speaker names or official titles found in the transcript.

INSTRUCTIONS:
1) Read the entire transcript to understand the context and identify speakers.
2) Use ONLY names/titles explicitly supported by the transcript: self-introductions, roll call, direct address (e.g., "Senator Smith", "Madam Chair"), or when a name is called and another label immediately responds.
3) Identify speaker names from context when they introduce themselves (e.g., My name is Jane Doe, or This is Dave Cole).
4) Pay close attention when one speaker calls on another. The dialogue immediately following that call should be attributed to the person who was called upon.
5) Prefer the most specific formal version (e.g., "Chairwoman Cruz Perez" over "Chair").
6) If there is not enough evidence, map to "%[2]s". Do not guess.
7) Keep the mapping consistent: the same person must map to the same label for the entire transcript.
8) Return ONLY a single JSON object with keys present in the input; no commentary or Markdown.

INPUT (each line is an utterance):
%[1]s

OUTPUT FORMAT EXAMPLE:
{
  "spk_0": "Chairwoman Cruz Perez",
  "spk_1": "Senator Pennacchio",
  "spk_2": "%[2]s"
}
`, compact, transcribe.UnknownSpeaker)
}
