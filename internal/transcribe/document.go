package transcribe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Normalized is the canonical view of an ASR document.
type Normalized struct {
	Tokens       []Token
	Ranges       SpeakerRanges
	Multichannel bool
	Warnings     []string
}

type document struct {
	Results json.RawMessage `json:"results"`
}

type results struct {
	SpeakerLabels *rangeSource   `json:"speaker_labels"`
	ChannelLabels *channelSource `json:"channel_labels"`
	Items         *itemSource    `json:"items"`
}

// ParseDocument decodes a transcription job result and normalizes its
// token and speaker-range sections.
func ParseDocument(data []byte) (Normalized, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Normalized{}, fmt.Errorf("%w: decode document: %v", ErrStructural, err)
	}

	raw := bytes.TrimSpace(doc.Results)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] != '{' {
		return Normalized{}, fmt.Errorf("%w: results should be an object", ErrStructural)
	}

	var res results
	if err := json.Unmarshal(raw, &res); err != nil {
		return Normalized{}, fmt.Errorf("%w: decode results: %v", ErrStructural, err)
	}
	return normalize(res)
}

func normalize(res results) (Normalized, error) {
	var out Normalized

	if res.SpeakerLabels == nil {
		slog.Warn("transcribe: speaker_labels section missing, relying on inline labels")
		out.Warnings = append(out.Warnings, "speaker_labels section missing from results")
	} else {
		out.Ranges = SpeakerRanges(res.SpeakerLabels.ranges)
	}

	switch {
	case res.ChannelLabels != nil:
		slog.Info("transcribe: channel identification detected, merging channels", "channels", len(res.ChannelLabels.channels))
		var tokens []Token
		for _, ch := range res.ChannelLabels.channels {
			tokens = append(tokens, ch...)
		}
		sort.SliceStable(tokens, func(i, j int) bool {
			return sortKey(tokens[i]) < sortKey(tokens[j])
		})
		out.Tokens = tokens
		out.Multichannel = true
	case res.Items != nil:
		out.Tokens = res.Items.tokens
	default:
		return Normalized{}, fmt.Errorf("%w: transcript missing items or channel_labels", ErrStructural)
	}

	return out, nil
}

func sortKey(t Token) float64 {
	if !t.HasTiming {
		return math.Inf(1)
	}
	return t.StartTime
}

// rangeSource accepts either a list of ranges or {"segments": [...]}.
type rangeSource struct {
	ranges []SpeakerRange
}

func (s *rangeSource) UnmarshalJSON(data []byte) error {
	list := unwrapList(data, "segments")
	for _, entry := range objectEntries(list) {
		var r struct {
			StartTime    flexFloat `json:"start_time"`
			EndTime      flexFloat `json:"end_time"`
			SpeakerLabel *string   `json:"speaker_label"`
		}
		if err := json.Unmarshal(entry, &r); err != nil || r.SpeakerLabel == nil {
			continue
		}
		s.ranges = append(s.ranges, SpeakerRange{
			Start: r.StartTime.Value,
			End:   r.EndTime.Value,
			Label: *r.SpeakerLabel,
		})
	}
	return nil
}

// channelSource accepts either a list of channels or {"channels": [...]}.
// A channel is a token list or an object with an items list.
type channelSource struct {
	channels [][]Token
}

func (s *channelSource) UnmarshalJSON(data []byte) error {
	for _, ch := range rawEntries(unwrapList(data, "channels")) {
		var items json.RawMessage
		switch firstByte(ch) {
		case '[':
			items = ch
		case '{':
			var wrapper struct {
				Items json.RawMessage `json:"items"`
			}
			if err := json.Unmarshal(ch, &wrapper); err != nil {
				continue
			}
			items = wrapper.Items
		default:
			continue
		}
		s.channels = append(s.channels, decodeTokens(items))
	}
	return nil
}

type itemSource struct {
	tokens []Token
}

func (s *itemSource) UnmarshalJSON(data []byte) error {
	s.tokens = decodeTokens(data)
	return nil
}

type rawAlternative struct {
	Content flexString `json:"content"`
}

type rawItem struct {
	Type         flexString        `json:"type"`
	StartTime    flexFloat         `json:"start_time"`
	EndTime      flexFloat         `json:"end_time"`
	Alternatives []json.RawMessage `json:"alternatives"`
	SpeakerLabel flexString        `json:"speaker_label"`
}

// decodeTokens keeps object entries that carry at least one alternative.
// Anything else in the list is dropped.
func decodeTokens(list json.RawMessage) []Token {
	if firstByte(list) != '[' {
		return nil
	}
	var tokens []Token
	for _, entry := range objectEntries(list) {
		var it rawItem
		if err := json.Unmarshal(entry, &it); err != nil || len(it.Alternatives) == 0 {
			continue
		}

		var text string
		if firstByte(it.Alternatives[0]) == '{' {
			var alt rawAlternative
			if err := json.Unmarshal(it.Alternatives[0], &alt); err == nil {
				text = alt.Content.Value
			}
		}

		kind := Punctuation
		if it.Type.Value == "pronunciation" {
			kind = Pronunciation
		}

		tokens = append(tokens, Token{
			Kind:         kind,
			StartTime:    it.StartTime.Value,
			EndTime:      it.EndTime.Value,
			HasTiming:    it.StartTime.Valid,
			Text:         text,
			SpeakerLabel: it.SpeakerLabel.Value,
		})
	}
	return tokens
}

// unwrapList returns data itself when it is a list, or the named list field
// when data is an object. Other shapes yield nil.
func unwrapList(data []byte, key string) json.RawMessage {
	switch firstByte(data) {
	case '[':
		return data
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		if list := obj[key]; firstByte(list) == '[' {
			return list
		}
	}
	return nil
}

func rawEntries(list json.RawMessage) []json.RawMessage {
	if firstByte(list) != '[' {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil
	}
	return entries
}

func objectEntries(list json.RawMessage) []json.RawMessage {
	entries := rawEntries(list)
	out := entries[:0]
	for _, e := range entries {
		if firstByte(e) == '{' {
			out = append(out, e)
		}
	}
	return out
}

func firstByte(data []byte) byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// flexFloat accepts a JSON number or a numeric string. Anything else leaves
// it zero and invalid rather than failing the enclosing record.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return nil
	}
	f.Value, f.Valid = v, true
	return nil
}

// flexString keeps string values and ignores every other JSON type.
type flexString struct {
	Value string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	if firstByte(data) != '"' {
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}
