package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/crystal-mush/voxelshare/pkg/worldfs"
)

// Extract restores every entry of a zip archive below root in dst and
// returns the number of files written. Entries that would escape root are
// rejected, and files carrying a checksum comment are verified.
func Extract(data []byte, dst worldfs.WritableFS, root string) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("archive: open: %w", err)
	}
	root = worldfs.Clean(root)
	if err := dst.MkdirAll(root); err != nil {
		return 0, fmt.Errorf("archive: %w", err)
	}

	count := 0
	for _, f := range zr.File {
		rel, err := entryName(f.Name)
		if err != nil {
			return count, err
		}
		target := path.Join(root, rel)

		if f.FileInfo().IsDir() {
			if err := dst.MkdirAll(target); err != nil {
				return count, fmt.Errorf("archive: %w", err)
			}
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			return count, err
		}
		if want, ok := strings.CutPrefix(f.Comment, checksumPrefix); ok {
			sum := sha256.Sum256(content)
			if hex.EncodeToString(sum[:]) != want {
				return count, fmt.Errorf("archive: checksum mismatch for %s, archive may be corrupt", f.Name)
			}
		}
		if err := dst.WriteFile(target, content); err != nil {
			return count, fmt.Errorf("archive: %w", err)
		}
		count++
	}
	return count, nil
}

// entryName validates an archive entry name and returns it relative and clean.
func entryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("archive: invalid entry %q", name)
	}
	clean := path.Clean(strings.TrimSuffix(name, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive: invalid entry %q", name)
	}
	return clean, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", f.Name, err)
	}
	return content, nil
}
