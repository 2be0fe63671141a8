// Package download models the client's save-file flow: blobs are registered
// under transient object URLs and an anchor click saves the referenced blob
// into the downloads directory.
package download

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Anchor is a synthesized download link.
type Anchor struct {
	Href     string // object URL
	Download string // suggested filename
}

type blob struct {
	data []byte
	mime string
}

// Manager owns the object URL table and the destination directory.
type Manager struct {
	dir string

	mu      sync.Mutex
	objects map[string]blob
}

// NewManager creates a manager saving into dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, objects: make(map[string]blob)}
}

// Dir returns the downloads directory.
func (m *Manager) Dir() string { return m.dir }

// CreateObjectURL registers data and returns a "blob:" URL referencing it.
func (m *Manager) CreateObjectURL(data []byte, mime string) string {
	url := "blob:" + ulid.Make().String()
	m.mu.Lock()
	m.objects[url] = blob{data: data, mime: mime}
	m.mu.Unlock()
	return url
}

// RevokeObjectURL releases the blob behind url. Unknown URLs are ignored.
func (m *Manager) RevokeObjectURL(url string) {
	m.mu.Lock()
	delete(m.objects, url)
	m.mu.Unlock()
}

// Resolve returns the blob behind a live object URL.
func (m *Manager) Resolve(url string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[url]
	return b.data, b.mime, ok
}

// Live returns the number of object URLs not yet revoked.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Click saves the anchor's blob into the downloads directory and returns the
// path written. An existing file is never overwritten; "name (1).zip" style
// names are tried instead.
func (m *Manager) Click(a Anchor) (string, error) {
	data, _, ok := m.Resolve(a.Href)
	if !ok {
		return "", fmt.Errorf("download: %s is not a live object URL", a.Href)
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("download: create dir %s: %w", m.dir, err)
	}

	name := SafeName(a.Download)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		target := filepath.Join(m.dir, candidate)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("download: create %s: %w", target, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("download: write %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("download: close %s: %w", target, err)
		}
		log.Printf("download: saved %s (%d bytes)", target, len(data))
		return target, nil
	}
}

// SafeName reduces a suggested filename to a single path element.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}
