package transcribe

import "math"

// Dedupe drops a token when it repeats the last retained token: same text and
// start times no more than epsilon apart. Channel re-transcription of shared
// audio produces such pairs, adjacent once channels are merged by time.
// Tokens without timing are always kept.
func Dedupe(tokens []Token, epsilon float64) []Token {
	if len(tokens) == 0 {
		return nil
	}

	kept := make([]Token, 0, len(tokens))
	kept = append(kept, tokens[0])
	for _, cur := range tokens[1:] {
		if isDuplicate(kept[len(kept)-1], cur, epsilon) {
			continue
		}
		kept = append(kept, cur)
	}
	return kept
}

func isDuplicate(prev, cur Token, epsilon float64) bool {
	if !prev.HasTiming || !cur.HasTiming {
		return false
	}
	return math.Abs(cur.StartTime-prev.StartTime) <= epsilon && cur.Text == prev.Text
}
