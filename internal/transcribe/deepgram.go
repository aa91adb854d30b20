package transcribe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// ParseDeepgramLines reads saved Deepgram live responses, one JSON object per
// line. Blank lines are skipped.
func ParseDeepgramLines(r io.Reader) ([]*api.MessageResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var messages []*api.MessageResponse
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var mr api.MessageResponse
		if err := json.Unmarshal(raw, &mr); err != nil {
			return nil, fmt.Errorf("%w: decode deepgram message on line %d: %v", ErrStructural, line, err)
		}
		messages = append(messages, &mr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read deepgram messages: %w", err)
	}
	return messages, nil
}

// FromDeepgram flattens final Deepgram results into pronunciation tokens.
// Diarized words carry an inline label spk_<n>.
func FromDeepgram(messages []*api.MessageResponse) []Token {
	var tokens []Token
	for _, mr := range messages {
		if mr == nil || !mr.IsFinal || len(mr.Channel.Alternatives) == 0 {
			continue
		}
		for _, w := range mr.Channel.Alternatives[0].Words {
			label := ""
			if w.Speaker != nil {
				label = fmt.Sprintf("spk_%d", *w.Speaker)
			}
			tokens = append(tokens, Token{
				Kind:         Pronunciation,
				StartTime:    w.Start,
				EndTime:      w.End,
				HasTiming:    true,
				Text:         w.PunctuatedWord,
				SpeakerLabel: label,
			})
		}
	}
	return tokens
}

// TransformDeepgram reconstructs utterances from saved Deepgram responses.
func TransformDeepgram(r io.Reader, opts Options) (Result, error) {
	messages, err := ParseDeepgramLines(r)
	if err != nil {
		return Result{}, err
	}
	if len(messages) == 0 {
		return Result{}, fmt.Errorf("%w: no deepgram messages", ErrStructural)
	}
	return TransformTokens(FromDeepgram(messages), nil, opts), nil
}
