package retrain

import (
	"bytes"
	"context"
	"math/rand/v2"
	"path"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/wildlife-reid/internal/annotation"
	"github.com/tphakala/wildlife-reid/internal/blobstore"
	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// DefaultSampleBatch is the contrastive training batch size sample sets are rounded up to
const DefaultSampleBatch = 128

// Plan sizes a backbone training set
type Plan struct {
	New   int `yaml:"new" json:"new"`
	Old   int `yaml:"old" json:"old"`
	Total int `yaml:"total" json:"total"`
}

// SamplePlan keeps two old images per new one, rounded up to a whole number of batches
func SamplePlan(newCount, batch int) Plan {
	if batch <= 0 {
		batch = DefaultSampleBatch
	}
	total := (newCount*3/batch + 1) * batch
	return Plan{New: newCount, Old: total - newCount, Total: total}
}

// Manifest lists the images of one backbone training run
type Manifest struct {
	CollectionID string    `yaml:"collection_id"`
	CreatedAt    time.Time `yaml:"created_at"`
	Seed         uint64    `yaml:"seed"`
	BatchSize    int       `yaml:"batch_size"`
	Plan         Plan      `yaml:"plan"`
	Old          []string  `yaml:"old"`
	New          []string  `yaml:"new"`
}

// BackboneSampler assembles backbone training manifests
type BackboneSampler struct {
	annotations   AnnotationLister
	blobs         blobstore.Store
	prefix        string
	outputsPrefix string
	batch         int
}

// NewBackboneSampler creates a sampler over the shared backbone training prefix
func NewBackboneSampler(annotations AnnotationLister, blobs blobstore.Store, prefix, outputsPrefix string, batch int) *BackboneSampler {
	if batch <= 0 {
		batch = DefaultSampleBatch
	}
	return &BackboneSampler{
		annotations:   annotations,
		blobs:         blobs,
		prefix:        prefix,
		outputsPrefix: outputsPrefix,
		batch:         batch,
	}
}

// ManifestKey returns {outputs}/{collection}/backbone/manifest.yaml
func (s *BackboneSampler) ManifestKey(collectionID string) string {
	return blobstore.Join(s.outputsPrefix, collectionID, "backbone", "manifest.yaml")
}

// Build samples old images without replacement, adds the collection's accepted crops and stores the manifest
func (s *BackboneSampler) Build(ctx context.Context, collectionID string, seed uint64) (*Manifest, string, error) {
	all, err := s.annotations.List(ctx, collectionID)
	if err != nil {
		return nil, "", err
	}
	var fresh []string
	for _, a := range annotation.FilterEligible(all) {
		if a.CroppedFileName != "" {
			fresh = append(fresh, a.CroppedFileName)
		}
	}
	slices.Sort(fresh)

	keys, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return nil, "", err
	}
	pool := keys[:0:0]
	for _, k := range keys {
		if strings.EqualFold(path.Ext(k), ".jpg") {
			pool = append(pool, k)
		}
	}
	slices.Sort(pool)

	plan := SamplePlan(len(fresh), s.batch)
	old := sample(pool, plan.Old, seed)

	m := &Manifest{
		CollectionID: collectionID,
		CreatedAt:    time.Now().UTC(),
		Seed:         seed,
		BatchSize:    s.batch,
		Plan:         plan,
		Old:          old,
		New:          fresh,
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, "", errors.New(err).
			Component("retrain").
			Category(errors.CategoryGeneric).
			Collection(collectionID).
			Build()
	}
	key := s.ManifestKey(collectionID)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, "", err
	}

	GetLogger().Info("backbone manifest written",
		logger.String("collection_id", collectionID),
		logger.String("key", key),
		logger.Int("old", len(old)),
		logger.Int("new", len(fresh)))
	return m, key, nil
}

// sample draws n keys without replacement, all of them when fewer are available
func sample(pool []string, n int, seed uint64) []string {
	if n >= len(pool) {
		return slices.Clone(pool)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	idx := rng.Perm(len(pool))[:n]
	slices.Sort(idx)
	out := make([]string, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}
