// Package species defines the closed set of species with an individual re-identification model
// and the single dispatch table mapping each one to its training data and artifact locations.
package species

import (
	"fmt"
	"path"
	"strings"
)

// Species is one of the supported animal species. The zero value is None.
type Species int

const (
	None Species = iota
	Hyena
	Leopard
	Giraffe
)

// Info holds everything that varies per species
type Info struct {
	ID             string // canonical identifier, also the detector label
	Name           string // short name used in config keys and CLI output
	TrainingPrefix string // blob prefix of durable labelled training images
}

// table is indexed by Species; None has no entry.
var table = [...]Info{
	Hyena:   {ID: "Crocuta_crocuta", Name: "hyena", TrainingPrefix: "hyena.coco/processed/train/"},
	Leopard: {ID: "Panthera_pardus", Name: "leopard", TrainingPrefix: "leopard.coco/processed/train/"},
	Giraffe: {ID: "Giraffa_tippelskirchi", Name: "giraffe", TrainingPrefix: "great_zebra_giraffe/individual_recognition/train/"},
}

// All returns every supported species in stable order
func All() []Species {
	return []Species{Hyena, Leopard, Giraffe}
}

// Parse resolves a canonical id or short name. Unknown strings return (None, false).
func Parse(s string) (Species, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, false
	}
	for _, sp := range All() {
		info := table[sp]
		if strings.EqualFold(s, info.ID) || strings.EqualFold(s, info.Name) {
			return sp, true
		}
	}
	return None, false
}

// Valid reports whether s is a supported species
func (s Species) Valid() bool {
	return s > None && int(s) < len(table)
}

// Info returns the dispatch entry. It panics for None, which is never a valid dispatch target.
func (s Species) Info() Info {
	if !s.Valid() {
		panic(fmt.Sprintf("species: no dispatch entry for %d", int(s)))
	}
	return table[s]
}

// ID returns the canonical identifier, or "" for None
func (s Species) ID() string {
	if !s.Valid() {
		return ""
	}
	return table[s].ID
}

// String implements fmt.Stringer
func (s Species) String() string {
	if !s.Valid() {
		return "none"
	}
	return table[s].Name
}

// Registry resolves per-deployment locations for each species: training prefixes may be
// overridden by configuration and model artifacts live under a configurable directory.
type Registry struct {
	modelsDir string
	prefixes  map[Species]string
}

// NewRegistry builds a registry. overrides maps short names to training prefixes;
// names that do not resolve to a species are returned as an error.
func NewRegistry(modelsDir string, overrides map[string]string) (*Registry, error) {
	r := &Registry{
		modelsDir: modelsDir,
		prefixes:  make(map[Species]string, len(table)),
	}
	for _, sp := range All() {
		r.prefixes[sp] = table[sp].TrainingPrefix
	}
	for name, prefix := range overrides {
		sp, ok := Parse(name)
		if !ok {
			return nil, fmt.Errorf("unknown species %q in training prefixes", name)
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		r.prefixes[sp] = prefix
	}
	return r, nil
}

// TrainingPrefix returns the blob prefix of durable training images for s
func (r *Registry) TrainingPrefix(s Species) string {
	return r.prefixes[s]
}

// ModelPath returns models/{species_id}_knn.json under the models directory
func (r *Registry) ModelPath(s Species) string {
	return path.Join(r.modelsDir, s.ID()+"_knn.json")
}

// LabelsPath returns models/{species_id}_labels.json under the models directory
func (r *Registry) LabelsPath(s Species) string {
	return path.Join(r.modelsDir, s.ID()+"_labels.json")
}

// ModelsDir returns the directory holding classifier artifacts
func (r *Registry) ModelsDir() string {
	return r.modelsDir
}
