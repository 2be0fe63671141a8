package boltstore

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	bbolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "world.bolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReplaceAndLoadWorld(t *testing.T) {
	s := openTestStore(t)
	if s.HasData() {
		t.Fatal("fresh store should have no data")
	}

	first := map[string][]byte{
		"level.dat":     []byte("level"),
		"region/r.mca":  []byte("region"),
		"stale/old.dat": []byte("old"),
	}
	if err := s.ReplaceWorld("Test", first); err != nil {
		t.Fatalf("ReplaceWorld: %v", err)
	}
	second := map[string][]byte{
		"level.dat":    []byte("level v2"),
		"region/r.mca": []byte("region"),
	}
	if err := s.ReplaceWorld("Test", second); err != nil {
		t.Fatalf("ReplaceWorld: %v", err)
	}

	name, files, err := s.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if name != "Test" {
		t.Errorf("name = %q", name)
	}
	if !reflect.DeepEqual(files, second) {
		t.Errorf("files = %v, want %v", files, second)
	}
	if !s.HasData() {
		t.Error("HasData should be true after save")
	}
	info, ok := s.Info()
	if !ok || info.World != "Test" || info.Files != 2 || info.SavedAt.IsZero() {
		t.Errorf("Info = %+v, %v", info, ok)
	}
}

func TestDirectoryMarkers(t *testing.T) {
	s := openTestStore(t)
	tree := map[string][]byte{
		"level.dat": []byte("level"),
		"region/":   nil,
		"poi/":      {},
	}
	if err := s.ReplaceWorld("Dirs", tree); err != nil {
		t.Fatalf("ReplaceWorld: %v", err)
	}
	_, files, err := s.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	want := map[string][]byte{
		"level.dat": []byte("level"),
		"region/":   {},
		"poi/":      {},
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
	if info, _ := s.Info(); info.Files != 1 {
		t.Errorf("Info.Files = %d, want 1", info.Files)
	}
}

func TestInfoEmpty(t *testing.T) {
	s := openTestStore(t)
	if info, ok := s.Info(); ok {
		t.Errorf("Info on a fresh store = %+v", info)
	}
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.bolt")
	rw, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rw.ReplaceWorld("RO", map[string][]byte{"level.dat": []byte("x")})
	rw.Close()

	ro, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()
	if !ro.ReadOnly() {
		t.Error("ReadOnly = false")
	}
	if info, ok := ro.Info(); !ok || info.World != "RO" || info.Files != 1 {
		t.Errorf("Info = %+v, %v", info, ok)
	}
	if err := ro.ReplaceWorld("RO", nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("ReplaceWorld = %v, want ErrReadOnly", err)
	}
	if err := ro.Clear(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Clear = %v, want ErrReadOnly", err)
	}
	if !ro.HasData() {
		t.Error("read-only store lost its data")
	}

	if _, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.bolt")); err == nil {
		t.Error("OpenReadOnly on a missing file should fail")
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	s.ReplaceWorld("Test", map[string][]byte{"level.dat": []byte("x")})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.HasData() {
		t.Error("HasData should be false after Clear")
	}
	name, files, err := s.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if name != "" || len(files) != 0 {
		t.Errorf("expected empty world, got %q %v", name, files)
	}
}

func TestSnapshotIsOpenable(t *testing.T) {
	s := openTestStore(t)
	s.ReplaceWorld("Snap", map[string][]byte{"level.dat": []byte("snap")})

	data, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Clearing afterwards must not affect the snapshot bytes.
	s.Clear()

	path := filepath.Join(t.TempDir(), "snap.bolt")
	if err := writeFile(path, data); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	restored, err := Open(path)
	if err != nil {
		t.Fatalf("Open snapshot: %v", err)
	}
	defer restored.Close()
	name, files, err := restored.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if name != "Snap" || string(files["level.dat"]) != "snap" {
		t.Errorf("snapshot contents = %q %v", name, files)
	}
}

func TestBackup(t *testing.T) {
	s := openTestStore(t)
	s.ReplaceWorld("B", map[string][]byte{"a": []byte("1")})
	path := filepath.Join(t.TempDir(), "backup.bolt")
	os.WriteFile(path, []byte("older backup"), 0600)
	if err := s.Backup(path); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary backup file left behind: %v", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer db.Close()
	db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketFiles).Get([]byte("a")); string(v) != "1" {
			t.Errorf("backup value = %q", v)
		}
		return nil
	})
}
