package image

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarshalRoundTrip(t *testing.T) {
	blob, err := Marshal(sampleFile())
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}

	f, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal: %s", err)
	}
	if f.Strings[2] != "hello" || f.Entry != 0 {
		t.Error("decoded file lost its content")
	}
	if len(f.Code) != 2 || len(f.Code[0].Literals) != 6 {
		t.Error("decoded file lost its code table")
	}
}

func TestUnmarshalValidates(t *testing.T) {
	broken := sampleFile()
	broken.Entry = 99
	blob, err := Marshal(broken)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}

	if _, err := Unmarshal(blob); err == nil {
		t.Error("an invalid cached file was accepted")
	}
}

func TestKeyIsStable(t *testing.T) {
	a := Key([]byte("same"))
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex characters", len(a))
	}
	if a != Key([]byte("same")) {
		t.Error("the same bytes produced different keys")
	}
	if a == Key([]byte("different")) {
		t.Error("different bytes produced the same key")
	}
}

func TestCachePutGet(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("OpenCache: %s", err)
	}
	defer cache.Close()

	key := Key([]byte("image bytes"))
	if err := cache.Put(key, sampleFile()); err != nil {
		t.Fatalf("Put: %s", err)
	}

	f, err := cache.Get(key)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if f == nil {
		t.Fatal("Get returned a miss for a stored entry")
	}
	if f.Strings[0] != "main" {
		t.Errorf("cached Strings[0] = %q", f.Strings[0])
	}

	miss, err := cache.Get(Key([]byte("unknown")))
	if err != nil {
		t.Fatalf("Get(miss): %s", err)
	}
	if miss != nil {
		t.Error("an unknown key produced an entry")
	}
}

func TestOpenCacheCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "images.db")
	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache: %s", err)
	}
	cache.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("cache directory missing: %s", err)
	}
}

func writeImageFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "program.ibi")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer file.Close()
	if err := Write(file, sampleFile()); err != nil {
		t.Fatalf("Write: %s", err)
	}
	return path
}

func TestLoadWithoutCache(t *testing.T) {
	path := writeImageFile(t, t.TempDir())

	f, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if f.Strings[0] != "main" {
		t.Errorf("Strings[0] = %q", f.Strings[0])
	}
}

func TestLoadPopulatesAndUsesCache(t *testing.T) {
	dir := t.TempDir()
	path := writeImageFile(t, dir)
	cache, err := OpenCache(filepath.Join(dir, "images.db"))
	if err != nil {
		t.Fatalf("OpenCache: %s", err)
	}
	defer cache.Close()

	if _, err := Load(path, cache); err != nil {
		t.Fatalf("Load: %s", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	stored, err := cache.Get(Key(data))
	if err != nil || stored == nil {
		t.Fatalf("the first load did not populate the cache: %v", err)
	}

	// Replace the cached entry; a second load must come from the cache,
	// not the file.
	doctored := sampleFile()
	doctored.Strings[0] = "from-the-cache"
	if err := cache.Put(Key(data), doctored); err != nil {
		t.Fatalf("Put: %s", err)
	}

	f, err := Load(path, cache)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if f.Strings[0] != "from-the-cache" {
		t.Error("the second load ignored the cache")
	}
}
