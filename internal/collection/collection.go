// Package collection manages collections, the scoping unit of uploaded images,
// annotations and retrain jobs, and the input images stored for each of them.
package collection

import (
	"context"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

const (
	// Table holds collection records
	Table = "collections"
	// LegacyTable holds records written before collections were renamed from sessions
	LegacyTable = "sessions"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the collection package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("collection")
	})
	return pkgLogger
}

// imageExtensions are the accepted input image file types
var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// Collection is a named batch of uploaded images
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Service manages collection records and their input images
type Service struct {
	kv           kvstore.Store
	blobs        blobstore.Store
	annotations  *annotation.Store
	inputsPrefix string
}

// NewService creates a collection service. inputsPrefix is the blob prefix holding
// one folder of input images per collection.
func NewService(kv kvstore.Store, blobs blobstore.Store, annotations *annotation.Store, inputsPrefix string) *Service {
	return &Service{
		kv:           kv,
		blobs:        blobs,
		annotations:  annotations,
		inputsPrefix: strings.TrimSuffix(inputsPrefix, "/"),
	}
}

// Create stores a new collection named name; the id is the name's slug
func (s *Service) Create(ctx context.Context, name string) (Collection, error) {
	name = strings.TrimSpace(name)
	id := Slug(name)
	if id == "" || strings.Trim(id, "-") == "" {
		return Collection{}, errors.Newf("collection name %q has no usable characters", name).
			Component("collection").
			Category(errors.CategoryValidation).
			Build()
	}

	c := Collection{ID: id, Name: name, CreatedAt: time.Now().UTC()}
	err := kvstore.UpdateJSON(ctx, s.kv, Table, id, func(v *Collection, exists bool) error {
		if exists {
			return errors.Newf("collection %q already exists", id).
				Component("collection").
				Category(errors.CategoryConflict).
				Build()
		}
		*v = c
		return nil
	})
	if err != nil {
		return Collection{}, err
	}

	GetLogger().Info("collection created", logger.String("collection_id", id), logger.String("name", name))
	return c, nil
}

// List returns every collection, including legacy session records, sorted by id
func (s *Service) List(ctx context.Context) ([]Collection, error) {
	current, err := kvstore.ValuesJSON[Collection](ctx, s.kv, Table)
	if err != nil {
		return nil, err
	}
	legacy, err := kvstore.ValuesJSON[Collection](ctx, s.kv, LegacyTable)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Collection, len(current)+len(legacy))
	for _, c := range legacy {
		byID[c.ID] = c
	}
	for _, c := range current {
		byID[c.ID] = c
	}

	out := make([]Collection, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Collection) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Get returns one collection, falling back to the legacy table
func (s *Service) Get(ctx context.Context, id string) (Collection, error) {
	c, err := kvstore.GetJSON[Collection](ctx, s.kv, Table, id)
	if err == nil || !errors.IsNotFound(err) {
		return c, err
	}
	c, err = kvstore.GetJSON[Collection](ctx, s.kv, LegacyTable, id)
	if err != nil && errors.IsNotFound(err) {
		return Collection{}, errors.Newf("collection %q not found", id).
			Component("collection").
			Category(errors.CategoryNotFound).
			Build()
	}
	return c, err
}

// Exists reports whether id names a collection
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the collection record and its annotations. Blobs are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, Table, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, LegacyTable, id); err != nil {
		return err
	}
	if err := s.annotations.Delete(ctx, id); err != nil {
		return err
	}
	GetLogger().Info("collection deleted", logger.String("collection_id", id))
	return nil
}

// InputPrefix returns the blob prefix of the collection's input images
func (s *Service) InputPrefix(id string) string {
	return blobstore.Join(s.inputsPrefix, id) + "/"
}

// InputKey returns the blob key of an input image
func (s *Service) InputKey(id, name string) string {
	return blobstore.Join(s.inputsPrefix, id, path.Base(name))
}

// Images lists the collection's input image keys, sorted
func (s *Service) Images(ctx context.Context, id string) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	keys, err := s.blobs.List(ctx, s.InputPrefix(id))
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if isImage(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// AddImage stores an uploaded image under the collection's input prefix and returns its key
func (s *Service) AddImage(ctx context.Context, id, name string, r io.Reader) (string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || !isImage(base) {
		return "", errors.Newf("%q is not a supported image file", name).
			Component("collection").
			Category(errors.CategoryValidation).
			Context("allowed", strings.Join(imageExtensions, ",")).
			Build()
	}
	key := s.InputKey(id, base)
	if err := s.blobs.Put(ctx, key, r); err != nil {
		return "", err
	}
	return key, nil
}

// RemoveImage deletes an input image; name may be a bare file name or a full key
func (s *Service) RemoveImage(ctx context.Context, id, name string) error {
	return s.blobs.Delete(ctx, s.InputKey(id, name))
}

func isImage(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	return slices.Contains(imageExtensions, ext)
}
