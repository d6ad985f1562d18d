package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrChecksum is returned when an archive member does not match the
// manifest.
var ErrChecksum = errors.New("archive: checksum mismatch")

// RestoreParams names where each archive member is written. Empty
// destinations are skipped. The server must be stopped.
type RestoreParams struct {
	ArchivePath string
	BoltDest    string
	AuditDest   string
	ItemsDest   string
	ConfDest    string // Only written when Overwrite is set or the file is missing
	Overwrite   bool
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest      *Manifest
	FilesRestored int
	Skipped       []string
}

// Restore validates every member against the manifest before writing
// anything, then copies members to their destinations.
func Restore(p RestoreParams) (*RestoreResult, error) {
	tmpDir, err := os.MkdirTemp("", "nova-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := extract(p.ArchivePath, tmpDir); err != nil {
		return nil, fmt.Errorf("restore: extract: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("restore: %s not found in archive", ManifestName)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("restore: parse manifest: %w", err)
	}

	for name, entry := range manifest.Files {
		sum, err := checksum(filepath.Join(tmpDir, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("restore: %s: %w", name, err)
		}
		if sum != entry.SHA256 {
			return nil, fmt.Errorf("%w: %s", ErrChecksum, name)
		}
	}

	res := &RestoreResult{Manifest: &manifest}
	restore := func(name, dest string, overwrite bool) error {
		if dest == "" {
			return nil
		}
		if _, ok := manifest.Files[name]; !ok {
			return nil
		}
		if !overwrite {
			if _, err := os.Stat(dest); err == nil {
				res.Skipped = append(res.Skipped, dest)
				return nil
			}
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("restore: create dir for %s: %w", dest, err)
		}
		if err := copyFile(filepath.Join(tmpDir, filepath.FromSlash(name)), dest); err != nil {
			return fmt.Errorf("restore: copy %s: %w", name, err)
		}
		res.FilesRestored++
		return nil
	}

	if err := restore(boltName, p.BoltDest, true); err != nil {
		return nil, err
	}
	if err := restore(auditName, p.AuditDest, true); err != nil {
		return nil, err
	}
	if err := restore(itemsName, p.ItemsDest, true); err != nil {
		return nil, err
	}
	if p.ConfDest != "" {
		if err := restore(confDir+filepath.Base(p.ConfDest), p.ConfDest, p.Overwrite); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// extract unpacks a .tar.gz into destDir.
func extract(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
