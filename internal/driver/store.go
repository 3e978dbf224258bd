package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Digest names an input by its SHA-256.
type Digest [sha256.Size]byte

func digestOf(data []byte) Digest { return sha256.Sum256(data) }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// writeAtomic writes data to path through a temporary file in the same
// directory.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Corpus is the set of accepted inputs. Entries are deduplicated by digest
// and mirrored to a directory when one is set. Safe for concurrent use.
type Corpus struct {
	mu      sync.RWMutex
	dir     string
	limit   int
	entries [][]byte
	seen    map[Digest]struct{}
}

// OpenCorpus loads every regular file in dir. An empty dir keeps the
// corpus in memory. limit caps the number of entries; 0 means no cap.
func OpenCorpus(dir string, limit int) (*Corpus, error) {
	c := &Corpus{dir: dir, limit: limit, seen: make(map[Digest]struct{})}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("corpus: %w", err)
		}
		c.insert(data)
	}
	return c, nil
}

func (c *Corpus) insert(data []byte) (Digest, bool) {
	d := digestOf(data)
	if _, ok := c.seen[d]; ok {
		return d, false
	}
	if c.limit > 0 && len(c.entries) >= c.limit {
		return d, false
	}
	c.seen[d] = struct{}{}
	c.entries = append(c.entries, append([]byte(nil), data...))
	return d, true
}

// Add stores data unless an identical entry exists or the corpus is full.
func (c *Corpus) Add(data []byte) (bool, error) {
	c.mu.Lock()
	d, added := c.insert(data)
	c.mu.Unlock()
	if !added || c.dir == "" {
		return added, nil
	}
	return true, writeAtomic(filepath.Join(c.dir, d.String()), data)
}

// Pick copies a random entry into buf and returns its length. An empty
// corpus yields 0.
func (c *Corpus) Pick(r *rand.Rand, buf []byte) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return 0
	}
	return copy(buf, c.entries[r.Intn(len(c.entries))])
}

// Len returns the number of entries.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// crashSchemaVersion is bumped when CrashMeta changes.
const crashSchemaVersion uint16 = 1

// CrashMeta describes a saved crashing input.
type CrashMeta struct {
	Schema  uint16
	Session string
	Worker  int
	Seed    uint32
	Triple  string
	CPU     string
	Opt     string
	Message string
	Time    time.Time
}

// CrashStore saves crashing inputs as "<digest>" next to a msgpack
// "<digest>.meta" record.
type CrashStore struct {
	mu  sync.Mutex
	dir string
}

// OpenCrashStore creates dir when needed.
func OpenCrashStore(dir string) (*CrashStore, error) {
	if dir == "" {
		return nil, errors.New("crash directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CrashStore{dir: dir}, nil
}

// Save writes data and meta and returns the input path.
func (s *CrashStore) Save(data []byte, meta CrashMeta) (string, error) {
	if s == nil {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.Schema = crashSchemaVersion
	path := filepath.Join(s.dir, digestOf(data).String())
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	enc, err := msgpack.Marshal(&meta)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path+".meta", enc); err != nil {
		return "", err
	}
	return path, nil
}

// LoadCrashMeta reads the record saved next to a crashing input.
func LoadCrashMeta(inputPath string) (CrashMeta, error) {
	var meta CrashMeta
	data, err := os.ReadFile(inputPath + ".meta")
	if err != nil {
		return meta, err
	}
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	if meta.Schema != crashSchemaVersion {
		return meta, fmt.Errorf("crash record %s: unsupported schema %d", inputPath, meta.Schema)
	}
	return meta, nil
}
