// Package archive packs a world directory into a zip container and restores
// it again. Entry names are relative to the archived root.
package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/worldfs"
)

// checksumPrefix marks the per-entry comment carrying the file digest.
const checksumPrefix = "sha256:"

// Header describes an export. It is stored as JSON in the zip comment.
type Header struct {
	Version   int    `json:"version"`
	Client    string `json:"client"`
	Timestamp string `json:"timestamp"`
	World     string `json:"world,omitempty"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Result is a finished archive and what went into it.
type Result struct {
	Data   []byte
	Header Header
	Files  map[string]FileEntry
}

// Archive serializes the tree below root into zip bytes.
func Archive(fsys worldfs.FS, root string) ([]byte, error) {
	res, err := Create(fsys, root, "")
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Create serializes the tree below root and records a header naming world.
// Filesystem errors are returned as-is (wrapped); nothing is retried.
func Create(fsys worldfs.FS, root, world string) (*Result, error) {
	root = worldfs.Clean(root)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	res := &Result{
		Header: Header{
			Version:   1,
			Client:    "voxelshare",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			World:     world,
		},
		Files: make(map[string]FileEntry),
	}

	if err := addFolder(zw, fsys, root, "", res); err != nil {
		zw.Close()
		return nil, err
	}

	hdr, err := json.Marshal(res.Header)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal header: %w", err)
	}
	if err := zw.SetComment(string(hdr)); err != nil {
		return nil, fmt.Errorf("archive: set comment: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: finish: %w", err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

// addFolder adds every entry of folder. rel is folder's path inside the archive.
func addFolder(zw *zip.Writer, fsys worldfs.FS, folder, rel string, res *Result) error {
	names, err := fsys.ReadDir(folder)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	for _, name := range names {
		entryPath := path.Join(folder, name)
		entryRel := name
		if rel != "" {
			entryRel = rel + "/" + name
		}

		info, err := fsys.Stat(entryPath)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}

		if info.IsDir {
			if _, err := zw.CreateHeader(&zip.FileHeader{
				Name:     entryRel + "/",
				Method:   zip.Store,
				Modified: time.Now(),
			}); err != nil {
				return fmt.Errorf("archive: folder %s: %w", entryRel, err)
			}
			if err := addFolder(zw, fsys, entryPath, entryRel, res); err != nil {
				return err
			}
			continue
		}

		data, err := fsys.ReadFile(entryPath)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entryRel,
			Method:   zip.Deflate,
			Modified: time.Now(),
			Comment:  checksumPrefix + digest,
		})
		if err != nil {
			return fmt.Errorf("archive: header %s: %w", entryRel, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("archive: write %s: %w", entryRel, err)
		}

		res.Files[entryRel] = FileEntry{SHA256: digest, Size: int64(len(data))}
		res.Header.Files++
		res.Header.Bytes += int64(len(data))
	}
	return nil
}
