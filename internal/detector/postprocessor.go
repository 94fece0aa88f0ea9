package detector

import "slices"

// Postprocessor filters or rewrites detector candidates. Implementations must not mutate the input slice.
type Postprocessor func([]Candidate) []Candidate

// NewScoreFilter keeps candidates with confidence >= minScore
func NewScoreFilter(minScore float64) Postprocessor {
	return func(in []Candidate) []Candidate {
		out := make([]Candidate, 0, len(in))
		for _, c := range in {
			if c.Confidence >= minScore {
				out = append(out, c)
			}
		}
		return out
	}
}

// NewLabelFilter keeps candidates whose label is one of labels
func NewLabelFilter(labels ...string) Postprocessor {
	return func(in []Candidate) []Candidate {
		out := make([]Candidate, 0, len(in))
		for _, c := range in {
			if slices.Contains(labels, c.Label) {
				out = append(out, c)
			}
		}
		return out
	}
}

// NewAreaFilter drops candidates whose box covers less than minArea square pixels
func NewAreaFilter(minArea float64) Postprocessor {
	return func(in []Candidate) []Candidate {
		out := make([]Candidate, 0, len(in))
		for _, c := range in {
			if c.Box != nil && c.Box.Area() >= minArea {
				out = append(out, c)
			}
		}
		return out
	}
}

// Chain applies postprocessors in order
func Chain(pp ...Postprocessor) Postprocessor {
	return func(in []Candidate) []Candidate {
		out := in
		for _, p := range pp {
			out = p(out)
		}
		return out
	}
}
