package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/crystal-mush/voxelshare/pkg/archive"
	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/crystal-mush/voxelshare/pkg/session"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("voxelshare %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestReplRoutesLines(t *testing.T) {
	bus := events.NewBus()
	var chatLines []string
	bus.Subscribe(&console{out: writerFunc(func(p []byte) {
		chatLines = append(chatLines, strings.TrimSpace(string(p)))
	})})

	var holder session.Holder
	sess, _ := session.Start(session.Options{InMemory: true}, nil, nil)
	holder.Set(sess)

	var dispatched []string
	dispatch := func(line string) bool {
		if line == "/save" {
			dispatched = append(dispatched, line)
			return true
		}
		return false
	}

	lines := make(chan string, 8)
	for _, l := range []string{"  ", "/save", "/help", "hello world", "/quit", "never read"} {
		lines <- l
	}
	var out bytes.Buffer
	repl(context.Background(), lines, []string{"/save"}, dispatch, &holder, bus, &out)

	if !reflect.DeepEqual(dispatched, []string{"/save"}) {
		t.Errorf("dispatched = %v", dispatched)
	}
	if !strings.Contains(out.String(), "Commands: /save, /help, /quit") {
		t.Errorf("help output = %q", out.String())
	}
	if !reflect.DeepEqual(chatLines, []string{"<operator> hello world"}) {
		t.Errorf("chat = %v", chatLines)
	}
	if len(lines) != 1 {
		t.Errorf("/quit should stop reading, %d lines left", len(lines))
	}
}

func TestReplWithoutSession(t *testing.T) {
	var holder session.Holder
	lines := make(chan string, 1)
	lines <- "/unknown"
	close(lines)

	var out bytes.Buffer
	repl(context.Background(), lines, nil, func(string) bool { return false }, &holder, events.NewBus(), &out)
	if !strings.Contains(out.String(), "No active session") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExportImportCommands(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed")
	os.MkdirAll(filepath.Join(seed, "region"), 0755)
	os.WriteFile(filepath.Join(seed, "level.dat"), []byte("level"), 0644)
	os.WriteFile(filepath.Join(seed, "region", "r.0.0.mca"), []byte("chunks"), 0644)

	conf := filepath.Join(dir, "voxelshare.yaml")
	os.WriteFile(conf, []byte("world_name: Seeded\nin_memory: true\nseed_dir: seed\nscrollback_db: \"\"\n"), 0644)
	envFile := filepath.Join(dir, "none.env")

	out := filepath.Join(dir, "seeded.zip")
	execute(t, "export", out, "--conf", conf, "--env-file", envFile)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("export output: %v", err)
	}
	entries, hdr, err := archive.List(data)
	if err != nil || hdr == nil || hdr.World != "Seeded" {
		t.Fatalf("List = %v, %+v, %v", entries, hdr, err)
	}

	durable := filepath.Join(dir, "durable.yaml")
	os.WriteFile(durable, []byte("world_name: Stored\nbolt_path: state/world.bolt\nscrollback_db: \"\"\n"), 0644)
	execute(t, "import", out, "--conf", durable, "--env-file", envFile)
	if _, err := os.Stat(filepath.Join(dir, "state", "world.bolt")); err != nil {
		t.Fatalf("import did not create the store: %v", err)
	}

	again := filepath.Join(dir, "again.zip")
	execute(t, "export", again, "--conf", durable, "--env-file", envFile)
	data2, _ := os.ReadFile(again)
	entries2, _, err := archive.List(data2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries2) != len(entries) {
		t.Fatalf("re-exported %d entries, want %d", len(entries2), len(entries))
	}
	for i := range entries {
		if entries[i].Name != entries2[i].Name || entries[i].SHA256 != entries2[i].SHA256 {
			t.Errorf("entry %d: %+v vs %+v", i, entries[i], entries2[i])
		}
	}

	listing := execute(t, "inspect", again, "--env-file", envFile)
	if !strings.Contains(listing, "region/r.0.0.mca") || !strings.Contains(listing, "World:   Stored") {
		t.Errorf("inspect output:\n%s", listing)
	}

	status := execute(t, "status", "--conf", durable, "--env-file", envFile)
	if !strings.Contains(status, "World:   Stored") || !strings.Contains(status, "Files:   2") {
		t.Errorf("status output:\n%s", status)
	}

	// Importing over a saved world keeps a copy of the old store.
	second := execute(t, "import", out, "--conf", durable, "--env-file", envFile)
	bak := filepath.Join(dir, "state", "world.bolt.bak")
	if !strings.Contains(second, "backed up to "+bak) {
		t.Errorf("import output:\n%s", second)
	}
	old, err := boltstore.OpenReadOnly(bak)
	if err != nil {
		t.Fatalf("open import backup: %v", err)
	}
	if info, ok := old.Info(); !ok || info.World != "Stored" || info.Files != 2 {
		t.Errorf("backup info = %+v, %v", info, ok)
	}
	old.Close()

	copyPath := filepath.Join(dir, "copy.bolt")
	execute(t, "backup", copyPath, "--conf", durable, "--env-file", envFile)
	cp, err := boltstore.OpenReadOnly(copyPath)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer cp.Close()
	if !cp.HasData() {
		t.Error("backup holds no world")
	}
}

type writerFunc func(p []byte)

func (f writerFunc) Write(p []byte) (int, error) {
	f(p)
	return len(p), nil
}
