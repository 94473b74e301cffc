// Package index maintains a BoltDB-backed cache of name -> {path, score,
// ascension} for each of a population's four collections. It is purely
// derived: population.json plus the *.indiv files on disk remain
// authoritative, and the index is rebuilt wholesale (Rebuild) from a
// snapshot of the population's collections. Its only job is to make
// "look up an individual by name" and "list a collection" cheap without
// re-reading every .indiv file on every query.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boltdb/bolt"

	"github.com/kiosk404/npcmaker/pkg/jsonutil"
)

// Collection names one of a population's four subdirectories.
type Collection string

const (
	Members     Collection = "members"
	Waiting     Collection = "waiting"
	Leaderboard Collection = "leaderboard"
	HallOfFame  Collection = "hall_of_fame"
)

var collections = [...]Collection{Members, Waiting, Leaderboard, HallOfFame}

// Entry is the cached record for one individual within one collection.
type Entry struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	Ascension uint64  `json:"ascension"`
}

// DB wraps a BoltDB instance holding one bucket per collection.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the index database at path, ensuring
// every collection bucket exists.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create dir %s: %w", dir, err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, c := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("index: create bucket %q: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the underlying BoltDB instance.
func (d *DB) Close() error {
	return d.db.Close()
}

// nameFromPath derives an individual's name from its "<name>.indiv" path.
func nameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".indiv")
}

// Put upserts an entry for the stub at path into collection c.
func (d *DB) Put(c Collection, path string, score float64, ascension uint64) error {
	entry := Entry{Name: nameFromPath(path), Path: path, Score: score, Ascension: ascension}
	data, err := jsonutil.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index: marshal entry: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		return b.Put([]byte(entry.Name), data)
	})
}

// Delete removes name from collection c, if present.
func (d *DB) Delete(c Collection, name string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		return b.Delete([]byte(name))
	})
}

// Get looks up name within collection c.
func (d *DB) Get(c Collection, name string) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return jsonutil.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("index: get %q/%q: %w", c, name, err)
	}
	return entry, found, nil
}

// List returns every entry in collection c, in bucket-iteration (key/name
// ascending) order. Callers that want score or ascension order should sort
// the result themselves.
func (d *DB) List(c Collection) ([]Entry, error) {
	var entries []Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		return b.ForEach(func(_, v []byte) error {
			var entry Entry
			if err := jsonutil.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("index: list %q: %w", c, err)
	}
	return entries, nil
}

// StubSource is the subset of population.Stub the index needs to rebuild
// itself, kept narrow so this package doesn't import population (which
// would create an import cycle if population ever wanted to use the index
// directly).
type StubSource struct {
	Path      string
	Score     float64
	Ascension uint64
}

// Rebuild clears and repopulates every collection bucket from the given
// snapshots, discarding whatever was cached before. Call this after opening
// a population from disk, or whenever the cache is suspected stale relative
// to the *.indiv files.
func (d *DB) Rebuild(snapshot map[Collection][]StubSource) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		for _, c := range collections {
			if err := tx.DeleteBucket([]byte(c)); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("index: clear bucket %q: %w", c, err)
			}
			b, err := tx.CreateBucket([]byte(c))
			if err != nil {
				return fmt.Errorf("index: recreate bucket %q: %w", c, err)
			}
			for _, s := range snapshot[c] {
				entry := Entry{Name: nameFromPath(s.Path), Path: s.Path, Score: s.Score, Ascension: s.Ascension}
				data, err := jsonutil.Marshal(entry)
				if err != nil {
					return fmt.Errorf("index: marshal entry: %w", err)
				}
				if err := b.Put([]byte(entry.Name), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
