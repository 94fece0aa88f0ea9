package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
	"github.com/tphakala/wildlife-reid/internal/species"
)

// DefaultCacheTTL is how long a decoded model stays cached
const DefaultCacheTTL = 30 * time.Minute

const versionLength = 16

// ArtifactRef pins a stored model by content hash
type ArtifactRef struct {
	Species string `json:"species"`
	Path    string `json:"path"`
	Version string `json:"version"`
}

func (r ArtifactRef) cacheKey() string {
	return r.Path + "@" + r.Version
}

// Store reads and writes model artifacts under the registry's models directory
type Store struct {
	registry *species.Registry
	cache    *cache.Cache
	recorder metrics.Recorder
}

// NewStore creates a store caching decoded models for ttl
func NewStore(registry *species.Registry, ttl time.Duration, rec metrics.Recorder) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	return &Store{
		registry: registry,
		cache:    cache.New(ttl, ttl*2),
		recorder: rec,
	}
}

// Save writes the labels file and then the model file, each through a temp file and rename
func (s *Store) Save(m *Model) (ArtifactRef, error) {
	sp, ok := species.Parse(m.Species)
	if !ok {
		return ArtifactRef{}, errors.Newf("cannot save a model for unknown species %q", m.Species).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}

	doc, err := json.Marshal(m)
	if err != nil {
		return ArtifactRef{}, saveError(err, sp)
	}
	labels, err := json.Marshal(m.Labels)
	if err != nil {
		return ArtifactRef{}, saveError(err, sp)
	}

	if err := writeAtomic(s.registry.LabelsPath(sp), labels); err != nil {
		return ArtifactRef{}, saveError(err, sp)
	}
	modelPath := s.registry.ModelPath(sp)
	if err := writeAtomic(modelPath, doc); err != nil {
		return ArtifactRef{}, saveError(err, sp)
	}

	ref := ArtifactRef{Species: sp.ID(), Path: modelPath, Version: contentVersion(doc)}
	s.cache.Set(ref.cacheKey(), m, cache.DefaultExpiration)
	GetLogger().Info("classifier saved",
		logger.String("species", sp.ID()),
		logger.String("path", modelPath),
		logger.String("version", ref.Version))
	return ref, nil
}

func writeAtomic(path string, data []byte) error {
	return blobstore.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Resolve pins the current artifact of sp. The bool is false when sp has never been trained.
// The decoded model is cached under the returned reference.
func (s *Store) Resolve(sp species.Species) (ArtifactRef, bool, error) {
	path := s.registry.ModelPath(sp)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ArtifactRef{}, false, nil
	}
	if err != nil {
		return ArtifactRef{}, false, loadError(err, path, sp.ID())
	}
	ref := ArtifactRef{Species: sp.ID(), Path: path, Version: contentVersion(data)}
	if _, found := s.cache.Get(ref.cacheKey()); !found {
		m, err := s.decode(ref, data)
		if err != nil {
			return ArtifactRef{}, false, err
		}
		s.cache.Set(ref.cacheKey(), m, cache.DefaultExpiration)
	}
	return ref, true, nil
}

// Load returns the model pinned by ref. A file replaced since Resolve is reported as a conflict
// once the cached copy has expired.
func (s *Store) Load(ref ArtifactRef) (*Model, error) {
	if cached, found := s.cache.Get(ref.cacheKey()); found {
		if m, ok := cached.(*Model); ok {
			return m, nil
		}
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, loadError(err, ref.Path, ref.Species)
	}
	if v := contentVersion(data); v != ref.Version {
		return nil, errors.Newf("model %s changed from version %s to %s", ref.Path, ref.Version, v).
			Component("classifier").
			Category(errors.CategoryConflict).
			Model(ref.Path).
			Species(ref.Species).
			Build()
	}
	m, err := s.decode(ref, data)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ref.cacheKey(), m, cache.DefaultExpiration)
	return m, nil
}

// ClassifierFor resolves and loads the classifier of sp, falling back to None on a cold start
func (s *Store) ClassifierFor(sp species.Species) (Classifier, *ArtifactRef, error) {
	ref, ok, err := s.Resolve(sp)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return None{}, nil, nil
	}
	m, err := s.Load(ref)
	if err != nil {
		return nil, nil, err
	}
	return m, &ref, nil
}

// Flush drops every cached model
func (s *Store) Flush() {
	s.cache.Flush()
}

func (s *Store) decode(ref ArtifactRef, data []byte) (*Model, error) {
	start := time.Now()
	var m Model
	err := json.Unmarshal(data, &m)
	if err == nil && (m.Pipeline == nil || len(m.Labels) == 0) {
		err = fmt.Errorf("model document has no pipeline or labels")
	}
	if err == nil && m.Version != FormatVersion {
		err = fmt.Errorf("unsupported model format version %d", m.Version)
	}
	s.recorder.RecordDuration(metrics.OpModelLoad, time.Since(start).Seconds())
	if err != nil {
		s.recorder.RecordOperation(metrics.OpModelLoad, metrics.StatusError)
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			Model(ref.Path).
			Species(ref.Species).
			Build()
	}
	s.recorder.RecordOperation(metrics.OpModelLoad, metrics.StatusSuccess)
	GetLogger().Debug("classifier loaded",
		logger.String("path", ref.Path),
		logger.String("version", ref.Version),
		logger.Int("labels", len(m.Labels)))
	return &m, nil
}

func contentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:versionLength]
}

func saveError(err error, sp species.Species) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryFileIO).
		Species(sp.ID()).
		Build()
}

func loadError(err error, path, sp string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		Model(path).
		Species(sp).
		Build()
}
