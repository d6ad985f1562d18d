// Package archive writes and restores point-in-time snapshots of the server
// state: the bolt store, the audit database, the item database and the
// config file, bundled into a checksummed .tar.gz.
package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Archive member names.
const (
	ManifestName = "manifest.json"
	boltName     = "data/nova.bolt"
	auditName    = "data/audit.sqlite"
	itemsName    = "data/items.dat"
	confDir      = "conf/"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	Accounts  int                  `json:"accounts"`
	Worlds    int                  `json:"worlds"`
	ItemsHash uint32               `json:"items_hash,omitempty"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // "bolt", "audit", "items", "conf"
}

// Params holds all inputs needed to create an archive.
type Params struct {
	BoltSnapshot    func(destPath string) error // Writes a consistent copy of the bolt store
	AuditPath       string                      // SQLite audit database (empty = skip)
	AuditCheckpoint func() error                // Flushes the WAL before the copy (nil = skip)
	ItemsPath       string                      // items.dat (empty or missing = skip)
	ConfPath        string                      // YAML config (empty or missing = skip)
	Dir             string                      // Output directory
	Accounts        int
	Worlds          int
	ItemsHash       uint32
}

// Create writes a .tar.gz snapshot into p.Dir and returns its path. The
// archive is written under a temporary name and renamed once complete.
func Create(p Params) (string, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}
	now := time.Now()
	archivePath := filepath.Join(p.Dir, fmt.Sprintf("nova-%s.tar.gz", now.Format("20060102-150405")))

	stage, err := os.MkdirTemp("", "nova-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(stage)

	// Staged copies first so the tar never reads live files mid-write.
	var members []member

	if p.BoltSnapshot != nil {
		dst := filepath.Join(stage, "nova.bolt")
		if err := p.BoltSnapshot(dst); err != nil {
			return "", fmt.Errorf("archive: bolt snapshot: %w", err)
		}
		members = append(members, member{dst, boltName, "bolt"})
	}
	if p.AuditPath != "" {
		if p.AuditCheckpoint != nil {
			if err := p.AuditCheckpoint(); err != nil {
				return "", fmt.Errorf("archive: audit checkpoint: %w", err)
			}
		}
		dst := filepath.Join(stage, "audit.sqlite")
		if err := copyFile(p.AuditPath, dst); err != nil {
			return "", fmt.Errorf("archive: copy audit: %w", err)
		}
		members = append(members, member{dst, auditName, "audit"})
	}
	if exists(p.ItemsPath) {
		members = append(members, member{p.ItemsPath, itemsName, "items"})
	}
	if exists(p.ConfPath) {
		members = append(members, member{p.ConfPath, confDir + filepath.Base(p.ConfPath), "conf"})
	}

	manifest := Manifest{
		Version:   1,
		Server:    "novaserver",
		Timestamp: now.UTC().Format(time.RFC3339),
		Accounts:  p.Accounts,
		Worlds:    p.Worlds,
		ItemsHash: p.ItemsHash,
		Files:     make(map[string]FileEntry, len(members)),
	}

	tmpPath := archivePath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", tmpPath, err)
	}
	if err := writeTar(out, members, &manifest); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	return archivePath, nil
}

// member is one staged file and its name inside the archive.
type member struct{ src, name, kind string }

func writeTar(w io.Writer, members []member, manifest *Manifest) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	for _, m := range members {
		entry, err := addFileToTar(tw, m.src, m.name)
		if err != nil {
			return err
		}
		entry.Type = m.kind
		manifest.Files[m.name] = entry
	}

	// Manifest goes last.
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    ManifestName,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive: close gzip: %w", err)
	}
	return nil
}

// addFileToTar adds one file under archName, hashing it while writing.
func addFileToTar(tw *tar.Writer, srcPath, archName string) (FileEntry, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: stat %s: %w", srcPath, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    archName,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: info.ModTime(),
	}); err != nil {
		return FileEntry{}, fmt.Errorf("archive: header %s: %w", archName, err)
	}

	h := sha256.New()
	written, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return FileEntry{}, fmt.Errorf("archive: write %s: %w", archName, err)
	}
	return FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: written}, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
