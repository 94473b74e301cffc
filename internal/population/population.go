// Package population implements a bounded population of individuals backed
// by a directory tree: members/, waiting/, leaderboard/ and hall_of_fame/
// subdirectories each hold their own *.indiv files, and population.json
// tracks only the two counters (ascension, generation) that aren't
// recoverable by rescanning those directories.
package population

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kiosk404/npcmaker/internal/individual"
	"github.com/kiosk404/npcmaker/internal/population/index"
	"github.com/kiosk404/npcmaker/pkg/jsonutil"
)

// Replacement controls how a population makes room for new members once it
// reaches its population size.
type Replacement int

const (
	// Unbounded never evicts; the population grows without limit.
	Unbounded Replacement = iota
	// Random evicts a uniformly-chosen member.
	Random
	// Oldest evicts the member with the smallest ascension.
	Oldest
	// Worst evicts the member with the lowest score.
	Worst
	// Generation replaces the entire membership at once, on rollover,
	// rather than incrementally as individuals arrive.
	Generation
)

func (r Replacement) String() string {
	switch r {
	case Unbounded:
		return "Unbounded"
	case Random:
		return "Random"
	case Oldest:
		return "Oldest"
	case Worst:
		return "Worst"
	case Generation:
		return "Generation"
	default:
		return "unknown"
	}
}

// ScoreFunc computes an individual's score for ranking purposes. The
// default, used when a Population is constructed with a nil ScoreFunc,
// parses Individual.Score as a float and falls back to negative infinity.
type ScoreFunc func(*individual.Individual) float64

func defaultScoreFunc(ind *individual.Individual) float64 {
	return ind.ScoreValue()
}

// Stub is a lightweight handle onto an individual stored on disk: just
// enough data to rank and file it without holding its genome in memory.
type Stub struct {
	Path      string
	Score     float64
	Ascension uint64

	cached *individual.Individual
}

func newStub(ind *individual.Individual, scoreFn ScoreFunc) Stub {
	ascension := uint64(math.MaxUint64)
	if ind.Ascension != nil {
		ascension = *ind.Ascension
	}
	return Stub{
		Path:      ind.Path(),
		Score:     scoreFn(ind),
		Ascension: ascension,
		cached:    ind,
	}
}

func stubFromPath(path string, scoreFn ScoreFunc) (Stub, error) {
	ind, err := individual.Load(path)
	if err != nil {
		return Stub{}, err
	}
	return newStub(ind, scoreFn), nil
}

// Load reads the full Individual this stub refers to, re-reading from disk
// if it isn't already cached.
func (s *Stub) Load() (*individual.Individual, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	ind, err := individual.Load(s.Path)
	if err != nil {
		return nil, err
	}
	s.cached = ind
	return ind, nil
}

// Unload discards any cached Individual, forcing the next Load to re-read
// from disk.
func (s *Stub) Unload() { s.cached = nil }

// copyTo copies the file s.Path refers to into dir, returning a Stub for
// the new location. Used when promoting a waiting individual into members,
// leaderboard or hall_of_fame.
func (s Stub) copyTo(dir string) (Stub, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Stub{}, err
	}
	dst := filepath.Join(dir, filepath.Base(s.Path))
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Stub{}, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Stub{}, err
	}
	copy := s
	copy.Path = dst
	return copy, nil
}

func stubsFromDir(dir string, scoreFn ScoreFunc) ([]Stub, error) {
	paths, err := individual.ScanDir(dir)
	if err != nil {
		return nil, err
	}
	stubs := make([]Stub, 0, len(paths))
	for _, p := range paths {
		s, err := stubFromPath(p, scoreFn)
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, s)
	}
	return stubs, nil
}

type metadata struct {
	Ascension  uint64 `json:"ascension"`
	Generation uint64 `json:"generation"`
}

// Population is a bounded, disk-backed group of individuals. All mutating
// methods are safe for concurrent use.
type Population struct {
	mu sync.RWMutex

	dir             string
	replacement     Replacement
	populationSize  int
	leaderboardSize int
	hallOfFameSize  int
	scoreFn         ScoreFunc

	ascension  uint64
	generation uint64

	members     []Stub
	waiting     []Stub
	leaderboard []Stub
	hallOfFame  []Stub

	idx *index.DB
}

// New opens (or creates) a population rooted at dir. An empty dir creates a
// fresh temp directory. scoreFn may be nil to use the default score parser.
func New(dir string, replacement Replacement, populationSize, leaderboardSize, hallOfFameSize int, scoreFn ScoreFunc) (*Population, error) {
	if scoreFn == nil {
		scoreFn = defaultScoreFunc
	}
	if dir == "" {
		tmp := filepath.Join(os.TempDir(), fmt.Sprintf("pop%x", rand.Uint64()))
		if err := os.MkdirAll(tmp, 0o755); err != nil {
			return nil, fmt.Errorf("population: create temp dir: %w", err)
		}
		dir = tmp
	}

	p := &Population{
		dir:             dir,
		replacement:     replacement,
		populationSize:  populationSize,
		leaderboardSize: leaderboardSize,
		hallOfFameSize:  hallOfFameSize,
		scoreFn:         scoreFn,
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Population) load() error {
	if err := p.loadMetadata(); err != nil {
		return err
	}
	return p.loadStubs()
}

func (p *Population) loadMetadata() error {
	data, err := os.ReadFile(p.metadataPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("population: read metadata: %w", err)
	}
	var m metadata
	if err := jsonutil.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("population: parse metadata: %w", err)
	}
	p.ascension = m.Ascension
	p.generation = m.Generation
	return nil
}

func (p *Population) saveMetadata() error {
	data, err := jsonutil.Marshal(metadata{Ascension: p.ascension, Generation: p.generation})
	if err != nil {
		return err
	}
	return os.WriteFile(p.metadataPath(), data, 0o644)
}

func (p *Population) loadStubs() error {
	var err error
	if p.members, err = stubsFromDir(p.membersPath(), p.scoreFn); err != nil {
		return err
	}
	if p.waiting, err = stubsFromDir(p.waitingPath(), p.scoreFn); err != nil {
		return err
	}
	if p.leaderboard, err = stubsFromDir(p.leaderboardPath(), p.scoreFn); err != nil {
		return err
	}
	if p.hallOfFame, err = stubsFromDir(p.hallOfFamePath(), p.scoreFn); err != nil {
		return err
	}
	sortDescendingByScore(p.leaderboard)
	sortAscendingByAscension(p.hallOfFame)
	return nil
}

func (p *Population) metadataPath() string     { return filepath.Join(p.dir, "population.json") }
func (p *Population) membersPath() string      { return filepath.Join(p.dir, "members") }
func (p *Population) waitingPath() string      { return filepath.Join(p.dir, "waiting") }
func (p *Population) leaderboardPath() string  { return filepath.Join(p.dir, "leaderboard") }
func (p *Population) hallOfFamePath() string   { return filepath.Join(p.dir, "hall_of_fame") }

// OpenIndex attaches a BoltDB-backed derived index at the given path,
// rebuilding it from the population's current in-memory state. Every
// subsequent Add rebuilds the index to match. The index is never
// authoritative; it exists purely to make name/score lookups cheap without
// re-reading every *.indiv file.
func (p *Population) OpenIndex(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	db, err := index.Open(path)
	if err != nil {
		return err
	}
	p.idx = db
	return p.syncIndexLocked()
}

// CloseIndex closes the attached index, if any.
func (p *Population) CloseIndex() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx == nil {
		return nil
	}
	err := p.idx.Close()
	p.idx = nil
	return err
}

// syncIndexLocked rebuilds the attached index (if any) from the current
// in-memory collections. Callers must hold p.mu.
func (p *Population) syncIndexLocked() error {
	if p.idx == nil {
		return nil
	}
	snapshot := map[index.Collection][]index.StubSource{
		index.Members:     stubSources(p.members),
		index.Waiting:     stubSources(p.waiting),
		index.Leaderboard: stubSources(p.leaderboard),
		index.HallOfFame:  stubSources(p.hallOfFame),
	}
	return p.idx.Rebuild(snapshot)
}

func stubSources(stubs []Stub) []index.StubSource {
	out := make([]index.StubSource, len(stubs))
	for i, s := range stubs {
		out[i] = index.StubSource{Path: s.Path, Score: s.Score, Ascension: s.Ascension}
	}
	return out
}

// Lookup finds the stub for name (an individual's base name, without the
// .indiv suffix) among members, the leaderboard, and the hall of fame. When
// an index is attached (OpenIndex), the lookup is answered from it directly
// rather than scanning every in-memory collection; a miss or error against
// the index falls back to the linear scan so a stale or unavailable index
// never hides an individual that's genuinely present.
func (p *Population) Lookup(name string) (Stub, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.idx != nil {
		for _, c := range [...]index.Collection{index.Members, index.Leaderboard, index.HallOfFame} {
			entry, found, err := p.idx.Get(c, name)
			if err == nil && found {
				return Stub{Path: entry.Path, Score: entry.Score, Ascension: entry.Ascension}, true
			}
		}
	}

	target := individual.FileName(name)
	for _, coll := range [][]Stub{p.members, p.leaderboard, p.hallOfFame} {
		for _, s := range coll {
			if target == filepath.Base(s.Path) {
				return s, true
			}
		}
	}
	return Stub{}, false
}

// Path reports the population's root directory.
func (p *Population) Path() string { return p.dir }

// Replacement reports the population's configured replacement policy.
func (p *Population) Replacement() Replacement { return p.replacement }

// PopulationSize reports the configured member cap.
func (p *Population) PopulationSize() int { return p.populationSize }

// Ascension reports the total number of individuals ever added.
func (p *Population) Ascension() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ascension
}

// Generation reports the number of generations that have completely
// rolled over.
func (p *Population) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// Members returns a snapshot of the current membership.
func (p *Population) Members() []Stub {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Stub(nil), p.members...)
}

// Leaderboard returns a snapshot of the leaderboard, sorted descending by
// score (index 0 is the best individual ever recorded).
func (p *Population) Leaderboard() []Stub {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Stub(nil), p.leaderboard...)
}

// HallOfFame returns a snapshot of the hall of fame, sorted ascending by
// ascension (index 0 is the oldest entry).
func (p *Population) HallOfFame() []Stub {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Stub(nil), p.hallOfFame...)
}

// Add records a newly-dead individual: it is assigned the next ascension
// number, staged into the waiting directory, and (depending on the
// replacement policy) folded into the current membership. Once enough
// individuals have accumulated in waiting, a generation rollover runs
// automatically.
func (p *Population) Add(ind *individual.Individual) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ascension := p.ascension
	ind.Ascension = &ascension
	p.ascension++

	if err := ind.Save(p.waitingPath()); err != nil {
		return fmt.Errorf("population: stage in waiting: %w", err)
	}
	stub := newStub(ind, p.scoreFn)
	p.waiting = append(p.waiting, stub)

	switch p.replacement {
	case Unbounded:
		saved, err := stub.copyTo(p.membersPath())
		if err != nil {
			return err
		}
		p.members = append(p.members, saved)

	case Random:
		for len(p.members) >= p.populationSize {
			idx := rand.Intn(len(p.members))
			if err := os.Remove(p.members[idx].Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			p.members = swapRemove(p.members, idx)
		}
		saved, err := stub.copyTo(p.membersPath())
		if err != nil {
			return err
		}
		p.members = append(p.members, saved)

	case Worst:
		for len(p.members) >= p.populationSize {
			worst := 0
			for i, m := range p.members {
				if m.Score < p.members[worst].Score {
					worst = i
				}
			}
			if err := os.Remove(p.members[worst].Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			p.members = swapRemove(p.members, worst)
		}
		saved, err := stub.copyTo(p.membersPath())
		if err != nil {
			return err
		}
		p.members = append(p.members, saved)

	case Oldest:
		for len(p.members) >= p.populationSize {
			oldest := 0
			for i, m := range p.members {
				if m.Ascension < p.members[oldest].Ascension {
					oldest = i
				}
			}
			if err := os.Remove(p.members[oldest].Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			p.members = swapRemove(p.members, oldest)
		}
		saved, err := stub.copyTo(p.membersPath())
		if err != nil {
			return err
		}
		p.members = append(p.members, saved)

	case Generation:
		// Membership only changes on rollover, below.

	default:
		return fmt.Errorf("population: unknown replacement policy %v", p.replacement)
	}

	if len(p.waiting) >= p.populationSize {
		if err := p.rollover(); err != nil {
			return err
		}
	}
	return p.syncIndexLocked()
}

func swapRemove(s []Stub, i int) []Stub {
	last := len(s) - 1
	s[i] = s[last]
	return s[:last]
}

func (p *Population) rollover() error {
	if err := p.rolloverLeaderboard(); err != nil {
		return err
	}
	if err := p.rolloverHallOfFame(); err != nil {
		return err
	}
	return p.rolloverGeneration()
}

func (p *Population) rolloverLeaderboard() error {
	dir := p.leaderboardPath()
	combined := append(append([]Stub(nil), p.leaderboard...), p.waiting...)
	sortDescendingByScore(combined)

	cut := p.leaderboardSize
	if cut > len(combined) {
		cut = len(combined)
	}
	kept := combined[:cut]
	dropped := combined[cut:]

	for i := range kept {
		if filepath.Dir(kept[i].Path) != dir {
			saved, err := kept[i].copyTo(dir)
			if err != nil {
				return err
			}
			kept[i] = saved
		}
	}
	for _, d := range dropped {
		if filepath.Dir(d.Path) == dir {
			if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}

	p.leaderboard = append([]Stub(nil), kept...)
	return nil
}

func (p *Population) rolloverHallOfFame() error {
	dir := p.hallOfFamePath()
	candidates := append([]Stub(nil), p.waiting...)
	sortDescendingByScore(candidates)

	cut := p.hallOfFameSize
	if cut > len(candidates) {
		cut = len(candidates)
	}
	winners := candidates[:cut]
	sortAscendingByAscension(winners)

	for _, w := range winners {
		saved, err := w.copyTo(dir)
		if err != nil {
			return err
		}
		p.hallOfFame = append(p.hallOfFame, saved)
	}
	return nil
}

func (p *Population) rolloverGeneration() error {
	p.generation++

	if p.replacement == Generation {
		membersDir := p.membersPath()
		waitingDir := p.waitingPath()
		swapDir := filepath.Join(p.dir, ".swap")

		if err := renameOrCreate(membersDir, swapDir); err != nil {
			return err
		}
		if err := renameOrCreate(waitingDir, membersDir); err != nil {
			return err
		}
		if err := renameOrCreate(swapDir, waitingDir); err != nil {
			return err
		}
		if err := p.saveMetadata(); err != nil {
			return err
		}

		p.members, p.waiting = p.waiting, p.members
		for i := range p.members {
			p.members[i].Path = filepath.Join(membersDir, filepath.Base(p.members[i].Path))
		}
		for i := range p.waiting {
			p.waiting[i].Path = filepath.Join(waitingDir, filepath.Base(p.waiting[i].Path))
		}
	} else {
		if err := p.saveMetadata(); err != nil {
			return err
		}
	}

	for _, w := range p.waiting {
		if err := os.Remove(w.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	p.waiting = nil
	return nil
}

// renameOrCreate renames src to dst, treating a missing src as "nothing to
// move" rather than an error (a brand-new population has no members/
// directory yet on its first rollover).
func renameOrCreate(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func sortDescendingByScore(stubs []Stub) {
	sort.SliceStable(stubs, func(i, j int) bool {
		a, b := stubs[i].Score, stubs[j].Score
		if math.IsNaN(a) {
			return false
		}
		if math.IsNaN(b) {
			return true
		}
		return a > b
	})
}

func sortAscendingByAscension(stubs []Stub) {
	sort.SliceStable(stubs, func(i, j int) bool {
		return stubs[i].Ascension < stubs[j].Ascension
	})
}
