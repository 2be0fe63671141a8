package worldfs

import (
	"os"
	"path/filepath"
	"sort"
)

// Dir exposes a host directory through FS. Names are resolved below the
// directory, so "/" is the directory itself. Symbolic links are not
// followed: ReadDir leaves them out.
type Dir string

func (d Dir) resolve(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(Clean(name)))
}

// ReadDir lists the entry names of a directory, sorted, without symlinks.
func (d Dir) ReadDir(name string) ([]string, error) {
	entries, err := os.ReadDir(d.resolve(name))
	if err != nil {
		return nil, &IOError{Op: "readdir", Path: Clean(name), Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stat describes name itself; a final symlink is not followed.
func (d Dir) Stat(name string) (FileInfo, error) {
	info, err := os.Lstat(d.resolve(name))
	if err != nil {
		return FileInfo{}, &IOError{Op: "stat", Path: Clean(name), Err: err}
	}
	return FileInfo{IsDir: info.IsDir(), Size: info.Size()}, nil
}

// ReadFile returns the contents of a file.
func (d Dir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.resolve(name))
	if err != nil {
		return nil, &IOError{Op: "read", Path: Clean(name), Err: err}
	}
	return data, nil
}

// WriteFile writes data, creating parent directories as needed.
func (d Dir) WriteFile(name string, data []byte) error {
	p := d.resolve(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return &IOError{Op: "mkdir", Path: Clean(name), Err: err}
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return &IOError{Op: "write", Path: Clean(name), Err: err}
	}
	return nil
}

// MkdirAll creates name and any missing parents.
func (d Dir) MkdirAll(name string) error {
	if err := os.MkdirAll(d.resolve(name), 0755); err != nil {
		return &IOError{Op: "mkdir", Path: Clean(name), Err: err}
	}
	return nil
}

// RemoveAll deletes name and everything below it. A missing name is not
// an error.
func (d Dir) RemoveAll(name string) error {
	if err := os.RemoveAll(d.resolve(name)); err != nil {
		return &IOError{Op: "remove", Path: Clean(name), Err: err}
	}
	return nil
}
