package worldfs

import (
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

var errIsDir = errors.New("is a directory")
var errNotDir = errors.New("not a directory")

// Mem is an in-memory tree. It is safe for concurrent use.
type Mem struct {
	mu       sync.RWMutex
	files    map[string][]byte
	children map[string]map[string]bool // directory -> child names
}

// NewMem returns an empty tree containing only "/".
func NewMem() *Mem {
	return &Mem{
		files:    make(map[string][]byte),
		children: map[string]map[string]bool{"/": {}},
	}
}

// ReadDir lists the names directly inside a directory, sorted.
func (m *Mem) ReadDir(name string) ([]string, error) {
	name = Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	kids, ok := m.children[name]
	if !ok {
		if _, isFile := m.files[name]; isFile {
			return nil, &IOError{Op: "readdir", Path: name, Err: errNotDir}
		}
		return nil, &IOError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(kids))
	for n := range kids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Stat reports whether name is a directory, or the size of a file.
func (m *Mem) Stat(name string) (FileInfo, error) {
	name = Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.children[name]; ok {
		return FileInfo{IsDir: true}, nil
	}
	if data, ok := m.files[name]; ok {
		return FileInfo{Size: int64(len(data))}, nil
	}
	return FileInfo{}, &IOError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile returns a copy of the file contents.
func (m *Mem) ReadFile(name string) ([]byte, error) {
	name = Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		if _, isDir := m.children[name]; isDir {
			return nil, &IOError{Op: "read", Path: name, Err: errIsDir}
		}
		return nil, &IOError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// WriteFile stores a copy of data at name, creating parent directories.
func (m *Mem) WriteFile(name string, data []byte) error {
	name = Clean(name)
	if name == "/" {
		return &IOError{Op: "write", Path: name, Err: errIsDir}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isDir := m.children[name]; isDir {
		return &IOError{Op: "write", Path: name, Err: errIsDir}
	}
	if err := m.mkdirAllLocked(path.Dir(name)); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[name] = cp
	m.children[path.Dir(name)][path.Base(name)] = true
	return nil
}

// MkdirAll creates name and any missing parents.
func (m *Mem) MkdirAll(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirAllLocked(Clean(name))
}

func (m *Mem) mkdirAllLocked(name string) error {
	if _, ok := m.children[name]; ok {
		return nil
	}
	if _, isFile := m.files[name]; isFile {
		return &IOError{Op: "mkdir", Path: name, Err: errNotDir}
	}
	parent := path.Dir(name)
	if err := m.mkdirAllLocked(parent); err != nil {
		return err
	}
	m.children[name] = make(map[string]bool)
	m.children[parent][path.Base(name)] = true
	return nil
}

// RemoveAll deletes name and everything below it. Missing paths are not an error.
func (m *Mem) RemoveAll(name string) error {
	name = Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := name + "/"
	if name == "/" {
		prefix = "/"
	}
	for f := range m.files {
		if f == name || strings.HasPrefix(f, prefix) {
			delete(m.files, f)
		}
	}
	for d := range m.children {
		if d != "/" && (d == name || strings.HasPrefix(d, prefix)) {
			delete(m.children, d)
		}
	}
	if name == "/" {
		m.children["/"] = make(map[string]bool)
		return nil
	}
	if kids, ok := m.children[path.Dir(name)]; ok {
		delete(kids, path.Base(name))
	}
	return nil
}

// Len returns the number of files held.
func (m *Mem) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
