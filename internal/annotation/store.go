package annotation

import (
	"context"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
)

// Table returns the key-value table holding a collection's annotations
func Table(collectionID string) string {
	return "annotations:" + collectionID
}

// Review is a reviewer's decision on one annotation. Only these fields change on merge;
// file names, box and confidence stay as the pipeline produced them.
type Review struct {
	ID               string  `json:"id"`
	Accepted         bool    `json:"accepted"`
	Ignored          bool    `json:"ignored"`
	PredictedName    *string `json:"predicted_name,omitempty"`
	PredictedSpecies *string `json:"predicted_species,omitempty"`
}

// ReviewOf builds a full review from an edited annotation
func ReviewOf(a *Annotation) Review {
	name, sp := a.PredictedName, a.PredictedSpecies
	return Review{ID: a.ID, Accepted: a.Accepted, Ignored: a.Ignored, PredictedName: &name, PredictedSpecies: &sp}
}

// Store persists annotations per collection
type Store struct {
	kv kvstore.Store
}

// NewStore creates an annotation store on kv
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Save replaces every annotation of the collection
func (s *Store) Save(ctx context.Context, collectionID string, list []Annotation) error {
	table := Table(collectionID)
	if err := s.kv.Drop(ctx, table); err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == "" {
			return errors.Newf("annotation for %q has no id", list[i].FileName).
				Component("annotation").
				Category(errors.CategoryValidation).
				Build()
		}
		if err := kvstore.SetJSON(ctx, s.kv, table, list[i].ID, list[i]); err != nil {
			return err
		}
	}
	return nil
}

// List returns the collection's annotations sorted by cropped file name
func (s *Store) List(ctx context.Context, collectionID string) ([]Annotation, error) {
	list, err := kvstore.ValuesJSON[Annotation](ctx, s.kv, Table(collectionID))
	if err != nil {
		return nil, err
	}
	Sort(list)
	return list, nil
}

// Get returns one annotation
func (s *Store) Get(ctx context.Context, collectionID, id string) (Annotation, error) {
	return kvstore.GetJSON[Annotation](ctx, s.kv, Table(collectionID), id)
}

// Merge applies reviews by id. Every id must exist; nothing is written when one does not.
func (s *Store) Merge(ctx context.Context, collectionID string, reviews []Review) ([]Annotation, error) {
	table := Table(collectionID)
	for _, r := range reviews {
		if _, err := s.kv.Get(ctx, table, r.ID); err != nil {
			if errors.IsNotFound(err) {
				return nil, errors.Newf("annotation %q not found in collection %q", r.ID, collectionID).
					Component("annotation").
					Category(errors.CategoryNotFound).
					Build()
			}
			return nil, err
		}
	}

	merged := make([]Annotation, 0, len(reviews))
	for _, r := range reviews {
		var out Annotation
		err := kvstore.UpdateJSON(ctx, s.kv, table, r.ID, func(a *Annotation, exists bool) error {
			if !exists {
				return errors.Newf("annotation %q was removed during review", r.ID).
					Component("annotation").
					Category(errors.CategoryConflict).
					Build()
			}
			a.Accepted = r.Accepted
			a.Ignored = r.Ignored
			if r.PredictedName != nil {
				a.PredictedName = *r.PredictedName
			}
			if r.PredictedSpecies != nil {
				a.PredictedSpecies = *r.PredictedSpecies
			}
			out = *a
			return nil
		})
		if err != nil {
			return nil, err
		}
		merged = append(merged, out)
	}
	Sort(merged)
	return merged, nil
}

// Delete removes every annotation of the collection
func (s *Store) Delete(ctx context.Context, collectionID string) error {
	return s.kv.Drop(ctx, Table(collectionID))
}
