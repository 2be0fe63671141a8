package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EntryInfo holds metadata about one archive entry.
type EntryInfo struct {
	Name   string
	IsDir  bool
	Size   int64
	SHA256 string
}

// List returns the entries of a zip archive sorted by name, plus its header
// when one was written. Archives without a header return a nil header.
func List(data []byte) ([]EntryInfo, *Header, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open: %w", err)
	}

	entries := make([]EntryInfo, 0, len(zr.File))
	for _, f := range zr.File {
		ei := EntryInfo{
			Name:  strings.TrimSuffix(f.Name, "/"),
			IsDir: f.FileInfo().IsDir(),
			Size:  int64(f.UncompressedSize64),
		}
		if sum, ok := strings.CutPrefix(f.Comment, checksumPrefix); ok {
			ei.SHA256 = sum
		}
		entries = append(entries, ei)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	var hdr *Header
	if zr.Comment != "" {
		var h Header
		if err := json.Unmarshal([]byte(zr.Comment), &h); err == nil {
			hdr = &h
		}
	}
	return entries, hdr, nil
}
