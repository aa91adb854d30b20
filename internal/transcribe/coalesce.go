package transcribe

// Coalesce merges adjacent utterances from the same speaker. With a nil gap
// every same-speaker run collapses; otherwise only pauses of at most *gap
// seconds are bridged. Start times are never moved.
func Coalesce(utterances []Utterance, gap *float64) []Utterance {
	if len(utterances) == 0 {
		return nil
	}

	merged := make([]Utterance, 0, len(utterances))
	merged = append(merged, utterances[0])
	for _, u := range utterances[1:] {
		last := &merged[len(merged)-1]
		if u.SpeakerLabel == last.SpeakerLabel && (gap == nil || u.StartTime-last.EndTime <= *gap) {
			last.Text = appendText(last.Text, u.Text)
			last.EndTime = u.EndTime
			continue
		}
		merged = append(merged, u)
	}
	return merged
}
