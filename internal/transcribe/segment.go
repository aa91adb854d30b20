package transcribe

import "strings"

// buffer is the utterance under construction. An empty label means nothing
// has been attributed yet.
type buffer struct {
	label string
	start float64
	end   float64
	text  string
}

// segmenter is the fold state for Reconstruct. lastEnd tracks the end of the
// most recent pronunciation and survives flushes.
type segmenter struct {
	ranges SpeakerRanges
	gap    float64

	buf        buffer
	lastEnd    float64
	hasLastEnd bool
}

// Reconstruct folds tokens into utterances, starting a new one whenever the
// speaker changes or the silence before a word exceeds gap seconds.
func Reconstruct(tokens []Token, ranges SpeakerRanges, gap float64) []Utterance {
	var utterances []Utterance

	s := segmenter{ranges: ranges, gap: gap}
	for _, tok := range tokens {
		var u Utterance
		var ok bool
		s, u, ok = s.step(tok)
		if ok {
			utterances = append(utterances, u)
		}
	}

	if u, ok := s.buf.emit(); ok {
		utterances = append(utterances, u)
	}
	return utterances
}

func (s segmenter) step(tok Token) (segmenter, Utterance, bool) {
	if tok.Kind == Punctuation {
		s.buf.text += tok.Text
		return s, Utterance{}, false
	}

	label := tok.SpeakerLabel
	if label == "" {
		label = s.ranges.Lookup(tok.StartTime, s.buf.label)
	}

	var out Utterance
	var emitted bool
	gapExceeded := s.hasLastEnd && tok.StartTime-s.lastEnd > s.gap
	if label != s.buf.label || gapExceeded {
		out, emitted = s.buf.emit()
		s.buf = buffer{label: label, start: tok.StartTime}
	}

	s.buf.text = appendText(s.buf.text, tok.Text)
	s.buf.end = tok.EndTime
	s.lastEnd = tok.EndTime
	s.hasLastEnd = true
	return s, out, emitted
}

// emit converts the buffer into an utterance. Buffers without a label or
// without text are dropped.
func (b buffer) emit() (Utterance, bool) {
	text := strings.TrimSpace(b.text)
	if b.label == "" || text == "" {
		return Utterance{}, false
	}
	return Utterance{
		SpeakerLabel: b.label,
		StartTime:    b.start,
		EndTime:      b.end,
		Text:         text,
	}, true
}
