// Package individual represents one evolved agent: its lineage metadata and
// genome, and the on-disk <name>.indiv file format used to persist it.
package individual

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kiosk404/npcmaker/pkg/jsonutil"
)

// NewName returns a fresh, globally-unique individual name: 128 bits of
// randomness, hex-encoded with no separators.
func NewName() string {
	id := uuid.New()
	return fmt.Sprintf("%032X", id[:])
}

// Individual is one agent's full lineage record plus its genome. Genome is
// the only field not carried in the JSON metadata; it lives after a 0x00
// delimiter in the .indiv file and may be released from memory and re-read
// from disk on demand (see Load/Genome).
type Individual struct {
	Name        string            `json:"name"`
	Ascension   *uint64           `json:"ascension,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Population  string            `json:"population"`
	Species     string            `json:"species,omitempty"`
	Controller  []string          `json:"controller,omitempty"`
	Telemetry   map[string]any    `json:"telemetry,omitempty"`
	Epigenome   map[string]any    `json:"epigenome,omitempty"`
	Score       string            `json:"score,omitempty"`
	Generation  uint64            `json:"generation"`
	Parents     []string          `json:"parents,omitempty"`
	Children    []string          `json:"children,omitempty"`
	BirthDate   string            `json:"birth_date,omitempty"`
	DeathDate   string            `json:"death_date,omitempty"`

	// Other carries any metadata field this type doesn't know about,
	// recovered by a secondary generic-map decode on Load and merged back in
	// on Save, so an individual written by a newer or third-party tool
	// round-trips its extra fields intact.
	Other map[string]any `json:"-"`

	genome []byte
	path   string // remembered on load, used to lazily re-read genome
}

// New creates a fresh individual with no parents (a seed individual).
func New(population string, genome []byte) *Individual {
	return &Individual{
		Name:       NewName(),
		Population: population,
		genome:     genome,
	}
}

// Asexual produces a single-parent child, copying the parent's genome via
// clone, bumping generation, and recording lineage.
func Asexual(parent *Individual, clone func([]byte) []byte) *Individual {
	child := &Individual{
		Name:       NewName(),
		Population: parent.Population,
		Generation: parent.Generation + 1,
		Parents:    []string{parent.Name},
		genome:     clone(parent.Genome()),
	}
	parent.Children = append(parent.Children, child.Name)
	return child
}

// Sexual produces a two-parent child by combining both parents' genomes
// through mate.
func Sexual(a, b *Individual, mate func(x, y []byte) []byte) *Individual {
	gen := a.Generation
	if b.Generation > gen {
		gen = b.Generation
	}
	child := &Individual{
		Name:       NewName(),
		Population: a.Population,
		Generation: gen + 1,
		Parents:    []string{a.Name, b.Name},
		genome:     mate(a.Genome(), b.Genome()),
	}
	a.Children = append(a.Children, child.Name)
	b.Children = append(b.Children, child.Name)
	return child
}

// Genome returns the individual's genome, lazily re-reading it from disk
// (via the path remembered at Load time) if it was previously released.
func (ind *Individual) Genome() []byte {
	if ind.genome != nil || ind.path == "" {
		return ind.genome
	}
	loaded, err := Load(ind.path)
	if err != nil {
		return nil
	}
	ind.genome = loaded.genome
	return ind.genome
}

// SetGenome replaces the in-memory genome.
func (ind *Individual) SetGenome(genome []byte) { ind.genome = genome }

// ReleaseGenome drops the in-memory genome, leaving Path remembered so a
// future Genome() call re-reads it from disk.
func (ind *Individual) ReleaseGenome() { ind.genome = nil }

// Path reports the file this individual was last saved to or loaded from,
// or "" if neither has happened yet.
func (ind *Individual) Path() string { return ind.path }

// MarkBirth stamps BirthDate with at, in UTC.
func (ind *Individual) MarkBirth(at time.Time) { ind.BirthDate = at.UTC().Format(time.RFC3339Nano) }

// MarkDeath stamps DeathDate with at, in UTC.
func (ind *Individual) MarkDeath(at time.Time) { ind.DeathDate = at.UTC().Format(time.RFC3339Nano) }

// ScoreValue parses Score as a float, returning negative infinity if Score
// is empty or not a valid number (spec §4.7: "missing or unparseable score
// sorts as if it were negative infinity").
func (ind *Individual) ScoreValue() float64 {
	if ind.Score == "" {
		return math.Inf(-1)
	}
	f, err := strconv.ParseFloat(ind.Score, 64)
	if err != nil {
		return math.Inf(-1)
	}
	return f
}

// individualKnownFields lists every JSON key Individual itself decodes,
// mirroring its struct tags, so a generic decode can recover whatever's left
// over as Other.
var individualKnownFields = []string{
	"name", "ascension", "environment", "population", "species", "controller",
	"telemetry", "epigenome", "score", "generation", "parents", "children",
	"birth_date", "death_date",
}

func knownIndividualFieldsRemoved(m map[string]interface{}) map[string]interface{} {
	for _, k := range individualKnownFields {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// marshalMeta renders ind's metadata, merging Other's fields back in as
// top-level siblings of the struct's own fields rather than a nested object,
// so they round-trip in the same flat shape Load recovers them from.
func (ind *Individual) marshalMeta() ([]byte, error) {
	data, err := jsonutil.Marshal(ind)
	if err != nil {
		return nil, err
	}
	if len(ind.Other) == 0 {
		return data, nil
	}
	var merged map[string]interface{}
	if err := jsonutil.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range ind.Other {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return jsonutil.Marshal(merged)
}

// FileName returns the on-disk file name for this individual, "<name>.indiv".
func FileName(name string) string {
	return name + ".indiv"
}

// Save atomically writes ind to dir/<name>.indiv: a temp file in the same
// directory, fsynced, then renamed over the final path. The file is JSON
// metadata, a single 0x00 byte, then the raw genome bytes.
func (ind *Individual) Save(dir string) error {
	meta, err := ind.marshalMeta()
	if err != nil {
		return fmt.Errorf("individual: marshal %s: %w", ind.Name, err)
	}

	final := filepath.Join(dir, FileName(ind.Name))
	tmp, err := os.CreateTemp(dir, ind.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("individual: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(meta); err != nil {
		tmp.Close()
		return fmt.Errorf("individual: write metadata: %w", err)
	}
	if _, err := tmp.Write([]byte{0x00}); err != nil {
		tmp.Close()
		return fmt.Errorf("individual: write delimiter: %w", err)
	}
	if _, err := tmp.Write(ind.genome); err != nil {
		tmp.Close()
		return fmt.Errorf("individual: write genome: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("individual: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("individual: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return fmt.Errorf("individual: rename into place: %w", err)
	}
	ind.path = final
	return nil
}

// Load reads an individual from its .indiv file at path.
func Load(path string) (*Individual, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("individual: read %s: %w", path, err)
	}
	sep := bytes.IndexByte(data, 0x00)
	if sep < 0 {
		return nil, fmt.Errorf("individual: %s has no metadata/genome delimiter", path)
	}

	var ind Individual
	if err := jsonutil.Unmarshal(data[:sep], &ind); err != nil {
		return nil, fmt.Errorf("individual: parse metadata in %s: %w", path, err)
	}
	var generic map[string]interface{}
	_ = jsonutil.Unmarshal(data[:sep], &generic)
	ind.Other = knownIndividualFieldsRemoved(generic)
	ind.genome = append([]byte(nil), data[sep+1:]...)
	ind.path = path
	return &ind, nil
}

// ScanDir lists every *.indiv file in dir, creating dir if it doesn't
// already exist. The returned paths are sorted for deterministic iteration.
func ScanDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("individual: create %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("individual: list %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".indiv" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
