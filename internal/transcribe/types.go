package transcribe

import (
	"errors"
	"strings"
)

// UnknownSpeaker is shown in place of a name the speaker map cannot resolve.
const UnknownSpeaker = "[UNKNOWN SPEAKER]"

const (
	DefaultSegmentGap   = 1.2
	DefaultDedupEpsilon = 0.001
)

// ErrStructural marks a document that has no usable token source or whose
// results section is not an object. Nothing should be written for it.
var ErrStructural = errors.New("transcript structure invalid")

type TokenKind int

const (
	Pronunciation TokenKind = iota
	Punctuation
)

func (k TokenKind) String() string {
	if k == Pronunciation {
		return "pronunciation"
	}
	return "punctuation"
}

// Token is one recognized word or punctuation mark. HasTiming is false when
// the source carried no parseable start_time; StartTime is then zero.
type Token struct {
	Kind         TokenKind
	StartTime    float64
	EndTime      float64
	HasTiming    bool
	Text         string
	SpeakerLabel string
}

// SpeakerRange covers [Start, End).
type SpeakerRange struct {
	Start float64
	End   float64
	Label string
}

type Utterance struct {
	SpeakerLabel string  `json:"speaker_label"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Text         string  `json:"text"`
}

// SpeakerMap resolves diarization labels to display names.
type SpeakerMap map[string]string

func (m SpeakerMap) Name(label string) (string, bool) {
	name, ok := m[label]
	return name, ok
}

func (m SpeakerMap) DisplayName(label string) string {
	if name, ok := m[label]; ok {
		return name
	}
	return UnknownSpeaker
}

// appendText joins next onto text with a single space unless text is empty
// or already ends in whitespace.
func appendText(text, next string) string {
	if text != "" && !strings.HasSuffix(text, " ") && !strings.HasSuffix(text, "\n") {
		text += " "
	}
	return text + next
}
