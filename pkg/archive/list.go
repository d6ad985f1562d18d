package archive

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// Info holds metadata about an existing archive file.
type Info struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp string // From manifest, or file mod time
	Accounts  int
	Worlds    int
}

// List scans dir for archives and returns them newest first.
func List(dir string) ([]Info, error) {
	pattern := filepath.Join(dir, "*.tar.gz")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("archive: glob %s: %w", pattern, err)
	}

	var archives []Info
	for _, path := range matches {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		ai := Info{
			Path:      path,
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Timestamp: st.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if m, err := ReadManifest(path); err == nil {
			ai.Timestamp = m.Timestamp
			ai.Accounts = m.Accounts
			ai.Worlds = m.Worlds
		}
		archives = append(archives, ai)
	}

	// RFC3339 sorts lexically; the filename breaks ties within a second.
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Timestamp != archives[j].Timestamp {
			return archives[i].Timestamp > archives[j].Timestamp
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Prune deletes all but the newest retain archives in dir and returns the
// removed paths. retain <= 0 keeps everything.
func Prune(dir string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, nil
	}
	archives, err := List(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, a := range archives[min(retain, len(archives)):] {
		if err := os.Remove(a.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, a.Path)
	}
	return removed, errors.Join(errs...)
}

// ReadManifest extracts the manifest from an archive.
func ReadManifest(archivePath string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name != ManifestName {
			continue
		}
		var m Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, fmt.Errorf("archive: %s not found in %s", ManifestName, archivePath)
}
