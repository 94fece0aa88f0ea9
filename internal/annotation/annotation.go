// Package annotation holds the reviewable prediction records and their per-collection storage.
package annotation

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/tphakala/wildlife-reid/internal/detector"
)

// Undetected is the species and individual name of an image with no detections,
// and the individual name when no classifier exists yet.
const Undetected = "undetected"

// namespace scopes deterministic annotation ids
var namespace = uuid.MustParse("6f1d9c3e-52a4-4b8e-9a57-0c2d6e1f4b7a")

// Annotation links one detection to its predicted species and individual and the review decision
type Annotation struct {
	ID                string               `json:"id"`
	FileName          string               `json:"file_name"`
	AnnotatedFileName string               `json:"annotated_file_name"`
	CroppedFileName   string               `json:"cropped_file_name"`
	BBox              detector.BoundingBox `json:"bbox"`
	BBoxConfidence    float64              `json:"species_confidence"`
	PredictedSpecies  string               `json:"predicted_species"`
	PredictedName     string               `json:"predicted_name"`
	Accepted          bool                 `json:"accepted"`
	Ignored           bool                 `json:"ignored"`
}

// NewID derives a stable id so repeated prediction runs over the same inputs produce the same ids
func NewID(collectionID, fileName, croppedFileName string) string {
	return uuid.NewSHA1(namespace, []byte(collectionID+"\x00"+fileName+"\x00"+croppedFileName)).String()
}

// Eligible reports whether the annotation may be used for training
func (a *Annotation) Eligible() bool {
	return a.Accepted && !a.Ignored
}

// IsUndetected reports whether a is the marker for an image without detections
func (a *Annotation) IsUndetected() bool {
	return a.PredictedSpecies == Undetected
}

// Compare orders annotations by cropped file name, then source file name, then id
func Compare(a, b Annotation) int {
	return cmp.Or(
		cmp.Compare(a.CroppedFileName, b.CroppedFileName),
		cmp.Compare(a.FileName, b.FileName),
		cmp.Compare(a.ID, b.ID),
	)
}

// Sort orders annotations in place with Compare
func Sort(list []Annotation) {
	slices.SortStableFunc(list, Compare)
}

// FilterEligible returns the accepted, non-ignored annotations in their original order
func FilterEligible(list []Annotation) []Annotation {
	out := make([]Annotation, 0, len(list))
	for i := range list {
		if list[i].Eligible() {
			out = append(out, list[i])
		}
	}
	return out
}
