package image

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Cache: content-addressed store of decoded images
// ---------------------------------------------------------------------------

// Decoded images are stored as canonical CBOR blobs keyed by the sha256
// of the raw image bytes, so a cache entry can never disagree with the
// file it was decoded from. The cache is purely an acceleration and
// diagnostic surface; any miss or error falls back to decoding the file.

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a File to canonical CBOR bytes.
func Marshal(f *File) ([]byte, error) {
	return cborEncMode.Marshal(f)
}

// Unmarshal deserializes a File from CBOR bytes and validates it.
func Unmarshal(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Key returns the cache key for raw image bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache is a sqlite-backed image store.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}

	return &Cache{db: db}, nil
}

// DefaultCachePath returns the per-user cache database path.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating the cache directory: %w", err)
	}
	return filepath.Join(dir, "inko", "images.db"), nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached File for key, or nil on a miss.
func (c *Cache) Get(key string) (*File, error) {
	var blob []byte
	err := c.db.QueryRow(
		"SELECT data FROM images WHERE hash = ?", key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	return Unmarshal(blob)
}

// Put stores f under key, replacing any previous entry.
func (c *Cache) Put(key string, f *File) error {
	blob, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO images (hash, data) VALUES (?, ?)", key, blob)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Load decodes the image at path, consulting cache when non-nil. Cache
// errors are not fatal: a broken entry means the file is decoded again
// and the entry rewritten.
func Load(path string, cache *Cache) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var key string
	if cache != nil {
		key = Key(data)
		if f, err := cache.Get(key); err == nil && f != nil {
			commonlog.GetLogger("inko.image").Debugf("cache hit for %s", path)
			return f, nil
		}
	}

	f, err := Read(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if cache != nil {
		// Best effort; the decoded file is already in hand.
		_ = cache.Put(key, f)
	}
	return f, nil
}
