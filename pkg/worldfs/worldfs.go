// Package worldfs defines the filesystem-like interface world storage is
// accessed through, with an in-memory tree and an OS directory implementation.
package worldfs

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// FileInfo is the subset of stat data the archiver and loaders need.
type FileInfo struct {
	IsDir bool
	Size  int64
}

// FS is the read side of a world storage backend.
type FS interface {
	ReadDir(name string) ([]string, error)
	Stat(name string) (FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

// WritableFS is a backend that can also be mutated.
type WritableFS interface {
	FS
	WriteFile(name string, data []byte) error
	MkdirAll(name string) error
	RemoveAll(name string) error
}

// IOError records a failed filesystem operation and the path it touched.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsNotExist reports whether err means a path was missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Clean normalizes name to an absolute slash path. "worlds/a" and
// "/worlds/a/" both become "/worlds/a".
func Clean(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return path.Clean(name)
}

// Join joins elements under an absolute root.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// WalkFunc is called for every file below the walk root. rel is the path
// relative to the root, slash separated.
type WalkFunc func(name, rel string, info FileInfo) error

// Walk visits every entry below root in lexical order, directories before
// their contents. The root itself is not reported.
func Walk(fsys FS, root string, fn WalkFunc) error {
	root = Clean(root)
	return walk(fsys, root, "", fn)
}

func walk(fsys FS, dir, rel string, fn WalkFunc) error {
	names, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, n := range names {
		name := path.Join(dir, n)
		r := n
		if rel != "" {
			r = rel + "/" + n
		}
		info, err := fsys.Stat(name)
		if err != nil {
			return err
		}
		if err := fn(name, r, info); err != nil {
			return err
		}
		if info.IsDir {
			if err := walk(fsys, name, r, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tree reads every entry below root, keyed by relative path. Directories
// are kept as markers: the key ends in "/" and the value is empty. A tree
// written back with WriteTree reproduces empty directories.
func Tree(fsys FS, root string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := Walk(fsys, root, func(name, rel string, info FileInfo) error {
		if info.IsDir {
			out[rel+"/"] = []byte{}
			return nil
		}
		data, err := fsys.ReadFile(name)
		if err != nil {
			return err
		}
		out[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsDirKey reports whether a Tree key is a directory marker.
func IsDirKey(rel string) bool {
	return strings.HasSuffix(rel, "/")
}

// CountFiles returns the number of non-directory keys in a tree.
func CountFiles(tree map[string][]byte) int {
	n := 0
	for rel := range tree {
		if !IsDirKey(rel) {
			n++
		}
	}
	return n
}

// Copy replicates the tree at srcRoot in src under dstRoot in dst and
// returns the number of files written.
func Copy(dst WritableFS, dstRoot string, src FS, srcRoot string) (int, error) {
	dstRoot = Clean(dstRoot)
	if err := dst.MkdirAll(dstRoot); err != nil {
		return 0, err
	}
	count := 0
	err := Walk(src, srcRoot, func(name, rel string, info FileInfo) error {
		target := path.Join(dstRoot, rel)
		if info.IsDir {
			return dst.MkdirAll(target)
		}
		data, err := src.ReadFile(name)
		if err != nil {
			return err
		}
		if err := dst.WriteFile(target, data); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

// WriteTree writes a tree (keyed by relative path, as returned by Tree)
// below root. Directory markers become directories.
func WriteTree(dst WritableFS, root string, files map[string][]byte) error {
	root = Clean(root)
	if err := dst.MkdirAll(root); err != nil {
		return err
	}
	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		target := path.Join(root, rel)
		if IsDirKey(rel) {
			if err := dst.MkdirAll(target); err != nil {
				return err
			}
			continue
		}
		if err := dst.WriteFile(target, files[rel]); err != nil {
			return err
		}
	}
	return nil
}
