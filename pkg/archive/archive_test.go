package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/crystal-mush/voxelshare/pkg/worldfs"
)

func testWorld(t *testing.T) *worldfs.Mem {
	t.Helper()
	m := worldfs.NewMem()
	files := map[string]string{
		"/worlds/test/level.dat":            "level-data",
		"/worlds/test/region/r.0.0.mca":     "\x00\x01\x02binary",
		"/worlds/test/region/r.0.-1.mca":    "other region",
		"/worlds/test/playerdata/steve.dat": "inventory",
		"/worlds/other/level.dat":           "must not be exported",
	}
	for name, content := range files {
		if err := m.WriteFile(name, []byte(content)); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
	}
	if err := m.MkdirAll("/worlds/test/empty"); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	return m
}

func TestArchiveRoundTrip(t *testing.T) {
	src := testWorld(t)
	data, err := Archive(src, "/worlds/test")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	dst := worldfs.NewMem()
	n, err := Extract(data, dst, "/restored")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n != 4 {
		t.Errorf("extracted %d files, want 4", n)
	}

	want, _ := worldfs.Tree(src, "/worlds/test")
	got, err := worldfs.Tree(dst, "/restored")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", got, want)
	}
	if info, err := dst.Stat("/restored/empty"); err != nil || !info.IsDir {
		t.Errorf("empty folder not restored: %+v %v", info, err)
	}
}

func TestArchiveEntriesAreRelative(t *testing.T) {
	data, err := Archive(testWorld(t), "worlds/test/")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	entries, _, err := List(data)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name, "worlds") {
			t.Errorf("entry %q carries the absolute root", e.Name)
		}
		names = append(names, e.Name)
	}
	want := []string{"empty", "level.dat", "playerdata", "playerdata/steve.dat", "region", "region/r.0.-1.mca", "region/r.0.0.mca"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
}

func TestCreateHeaderAndChecksums(t *testing.T) {
	res, err := Create(testWorld(t), "/worlds/test", "Test World")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Header.Files != 4 {
		t.Errorf("header files = %d, want 4", res.Header.Files)
	}
	if res.Header.World != "Test World" {
		t.Errorf("header world = %q", res.Header.World)
	}

	entries, hdr, err := List(res.Data)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if hdr == nil || hdr.World != "Test World" || hdr.Bytes != res.Header.Bytes {
		t.Errorf("listed header = %+v", hdr)
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if e.SHA256 != res.Files[e.Name].SHA256 {
			t.Errorf("%s checksum %q, want %q", e.Name, e.SHA256, res.Files[e.Name].SHA256)
		}
	}
}

// racyFS lists a file that is gone by the time it is read.
type racyFS struct {
	*worldfs.Mem
	vanished string
}

func (r racyFS) ReadFile(name string) ([]byte, error) {
	if name == r.vanished {
		return nil, &worldfs.IOError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	return r.Mem.ReadFile(name)
}

func TestArchivePropagatesIOError(t *testing.T) {
	src := racyFS{Mem: testWorld(t), vanished: "/worlds/test/level.dat"}
	_, err := Archive(src, "/worlds/test")
	if err == nil {
		t.Fatal("expected error for vanished file")
	}
	var ioErr *worldfs.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *worldfs.IOError in chain, got %v", err)
	}
	if ioErr.Path != "/worlds/test/level.dat" {
		t.Errorf("error path = %q", ioErr.Path)
	}
}

func TestArchiveMissingRoot(t *testing.T) {
	_, err := Archive(worldfs.NewMem(), "/nowhere")
	if !worldfs.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func buildZip(t *testing.T, name, comment, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Comment: comment})
	if err != nil {
		t.Fatalf("CreateHeader: %v", err)
	}
	w.Write([]byte(content))
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.dat", "a/../../evil.dat", "/abs.dat"} {
		data := buildZip(t, name, "", "x")
		dst := worldfs.NewMem()
		if _, err := Extract(data, dst, "/world"); err == nil {
			t.Errorf("Extract accepted %q", name)
		}
		if dst.Len() != 0 {
			t.Errorf("Extract wrote files for %q", name)
		}
	}
}

func TestExtractChecksumMismatch(t *testing.T) {
	data := buildZip(t, "level.dat", checksumPrefix+"deadbeef", "tampered")
	_, err := Extract(data, worldfs.NewMem(), "/world")
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("expected checksum mismatch, got %v", err)
	}
}

func TestExtractForeignZip(t *testing.T) {
	data := buildZip(t, "saves/level.dat", "", "plain")
	dst := worldfs.NewMem()
	n, err := Extract(data, dst, "/world")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n != 1 {
		t.Errorf("extracted %d files", n)
	}
	got, _ := dst.ReadFile("/world/saves/level.dat")
	if string(got) != "plain" {
		t.Errorf("content = %q", got)
	}
	_, hdr, _ := List(data)
	if hdr != nil {
		t.Errorf("expected no header for a foreign zip, got %+v", hdr)
	}
}
