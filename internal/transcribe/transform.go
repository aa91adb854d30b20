package transcribe

import "log/slog"

type Options struct {
	SegmentGap   float64
	DedupEpsilon float64
}

func (o Options) withDefaults() Options {
	if o.SegmentGap <= 0 {
		o.SegmentGap = DefaultSegmentGap
	}
	if o.DedupEpsilon <= 0 {
		o.DedupEpsilon = DefaultDedupEpsilon
	}
	return o
}

// Result is the uncoalesced reconstruction of one document.
type Result struct {
	Utterances []Utterance
	Tokens     int
	Duplicates int
	Warnings   []string
}

// Transform parses an ASR job result and reconstructs its utterances.
func Transform(data []byte, opts Options) (Result, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return Result{}, err
	}
	res := TransformTokens(doc.Tokens, doc.Ranges, opts)
	res.Warnings = append(doc.Warnings, res.Warnings...)
	return res, nil
}

// TransformTokens runs deduplication and segmentation over tokens that are
// already in time order.
func TransformTokens(tokens []Token, ranges SpeakerRanges, opts Options) Result {
	opts = opts.withDefaults()

	unique := Dedupe(tokens, opts.DedupEpsilon)
	utterances := Reconstruct(unique, ranges, opts.SegmentGap)

	res := Result{
		Utterances: utterances,
		Tokens:     len(tokens),
		Duplicates: len(tokens) - len(unique),
	}
	if len(utterances) == 0 {
		res.Warnings = append(res.Warnings, "no utterances could be attributed to a speaker")
	}

	slog.Debug("transcribe: reconstructed utterances",
		"tokens", res.Tokens,
		"duplicates", res.Duplicates,
		"utterances", len(utterances),
	)
	return res
}
