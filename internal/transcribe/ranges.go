package transcribe

// SpeakerRanges keeps input order; overlapping ranges resolve to the first
// one listed.
type SpeakerRanges []SpeakerRange

// Lookup returns the label of the first range containing t, or fallback when
// none does.
func (r SpeakerRanges) Lookup(t float64, fallback string) string {
	for _, sr := range r {
		if sr.Start <= t && t < sr.End {
			return sr.Label
		}
	}
	return fallback
}
