// Package boltstore is the durable storage backing a world: every file of the
// world tree is a key in a bbolt bucket.
package boltstore

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/worldfs"
	bbolt "go.etcd.io/bbolt"
)

// ErrReadOnly is returned by writes to a store opened with OpenReadOnly.
var ErrReadOnly = errors.New("boltstore: store is read-only")

// Info summarizes the saved world.
type Info struct {
	World   string
	Files   int
	SavedAt time.Time
}

// Store wraps a bbolt database holding one world.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// OpenReadOnly opens an existing database without taking the write lock, so
// several readers can share it. The file must have been created by Open.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.View(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketFiles} {
			if tx.Bucket(name) == nil {
				return fmt.Errorf("missing bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: %s is not a world store: %w", path, err)
	}
	return &Store{bolt: db}, nil
}

// ReadOnly reports whether the store refuses writes.
func (s *Store) ReadOnly() bool {
	return s.bolt.IsReadOnly()
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// ReplaceWorld persists a world tree (keyed by path relative to the world
// root, directories ending in "/") in a single transaction. Keys not present
// in the map are removed.
func (s *Store) ReplaceWorld(name string, files map[string][]byte) error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	count := worldfs.CountFiles(files)
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := resetBucket(tx, bucketFiles); err != nil {
			return err
		}
		b := tx.Bucket(bucketFiles)
		for rel, data := range files {
			if data == nil {
				data = []byte{}
			}
			if err := b.Put([]byte(rel), data); err != nil {
				return fmt.Errorf("put %s: %w", rel, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyWorld, []byte(name)); err != nil {
			return err
		}
		if err := meta.Put(keyFileCount, intToKey(count)); err != nil {
			return err
		}
		return meta.Put(keySavedAt, timeToKey(time.Now()))
	})
	if err != nil {
		return fmt.Errorf("boltstore: save world: %w", err)
	}
	log.Printf("boltstore: saved world %q (%d files)", name, count)
	return nil
}

// LoadWorld returns the persisted world name and tree.
func (s *Store) LoadWorld() (string, map[string][]byte, error) {
	var name string
	files := make(map[string][]byte)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		name = string(tx.Bucket(bucketMeta).Get(keyWorld))
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			// bbolt values are only valid for the life of the transaction.
			files[string(k)] = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return "", nil, fmt.Errorf("boltstore: load world: %w", err)
	}
	return name, files, nil
}

// HasData returns true if a world has been saved.
func (s *Store) HasData() bool {
	has := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bucketMeta).Get(keySavedAt) != nil
		return nil
	})
	return has
}

// Info returns the name, file count and save time of the stored world. ok
// is false when nothing has been saved.
func (s *Store) Info() (info Info, ok bool) {
	s.bolt.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		v := meta.Get(keySavedAt)
		if v == nil {
			return nil
		}
		ok = true
		info.SavedAt = keyToTime(v)
		info.World = string(meta.Get(keyWorld))
		info.Files = keyToInt(meta.Get(keyFileCount))
		return nil
	})
	return info, ok
}

// Clear deletes every persisted world file and all metadata.
func (s *Store) Clear() error {
	if s.ReadOnly() {
		return ErrReadOnly
	}
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketFiles} {
			if err := resetBucket(tx, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: clear: %w", err)
	}
	log.Printf("boltstore: cleared %s", s.Path())
	return nil
}

// Snapshot returns a consistent copy of the whole database file.
func (s *Store) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(&buf)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Backup writes a consistent copy of the database to path. The copy is
// written next to path and renamed into place, so an existing file at path
// is only replaced by a complete backup.
func (s *Store) Backup(path string) error {
	tmp := path + ".tmp"
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(tmp, 0600)
	})
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("boltstore: backup to %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("boltstore: backup to %s: %w", path, err)
	}
	log.Printf("boltstore: backup of %s written to %s", s.Path(), path)
	return nil
}

// resetBucket drops and recreates a bucket within tx.
func resetBucket(tx *bbolt.Tx, name []byte) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
	}
	if _, err := tx.CreateBucket(name); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return nil
}
