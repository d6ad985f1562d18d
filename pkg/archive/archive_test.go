package archive

import (
	"archive/tar"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir, bolt, audit, items, conf, out string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:   dir,
		bolt:  filepath.Join(dir, "live.bolt"),
		audit: filepath.Join(dir, "audit.sqlite"),
		items: filepath.Join(dir, "items.dat"),
		conf:  filepath.Join(dir, "nova.yaml"),
		out:   filepath.Join(dir, "archives"),
	}
	require.NoError(t, os.WriteFile(f.bolt, []byte("bolt-bytes"), 0o644))
	require.NoError(t, os.WriteFile(f.audit, []byte("sqlite-bytes"), 0o644))
	require.NoError(t, os.WriteFile(f.items, []byte("items-bytes"), 0o644))
	require.NoError(t, os.WriteFile(f.conf, []byte("enet:\n  port: 17091\n"), 0o644))
	return f
}

func (f fixture) params() Params {
	return Params{
		BoltSnapshot: func(dest string) error { return copyFile(f.bolt, dest) },
		AuditPath:    f.audit,
		ItemsPath:    f.items,
		ConfPath:     f.conf,
		Dir:          f.out,
		Accounts:     3,
		Worlds:       2,
		ItemsHash:    0xabcd,
	}
}

func TestCreateAndReadManifest(t *testing.T) {
	f := newFixture(t)
	checkpointed := false
	p := f.params()
	p.AuditCheckpoint = func() error { checkpointed = true; return nil }

	path, err := Create(p)
	require.NoError(t, err)
	assert.True(t, checkpointed)
	assert.FileExists(t, path)

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "novaserver", m.Server)
	assert.Equal(t, 3, m.Accounts)
	assert.Equal(t, uint32(0xabcd), m.ItemsHash)
	require.Len(t, m.Files, 4)
	assert.Equal(t, "bolt", m.Files["data/nova.bolt"].Type)
	assert.Equal(t, int64(len("items-bytes")), m.Files["data/items.dat"].Size)
	assert.Contains(t, m.Files, "conf/nova.yaml")
}

func TestCreateSkipsMissingInputs(t *testing.T) {
	f := newFixture(t)
	path, err := Create(Params{ItemsPath: filepath.Join(f.dir, "nope.dat"), Dir: f.out})
	require.NoError(t, err)
	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, m.Files)
}

func TestCreateSnapshotError(t *testing.T) {
	f := newFixture(t)
	p := f.params()
	p.BoltSnapshot = func(string) error { return os.ErrPermission }
	_, err := Create(p)
	assert.ErrorIs(t, err, os.ErrPermission)

	archives, err := List(f.out)
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	path, err := Create(f.params())
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "nova.yaml"), []byte("local"), 0o644))
	res, err := Restore(RestoreParams{
		ArchivePath: path,
		BoltDest:    filepath.Join(dest, "data", "nova.bolt"),
		AuditDest:   filepath.Join(dest, "data", "audit.sqlite"),
		ItemsDest:   filepath.Join(dest, "data", "items.dat"),
		ConfDest:    filepath.Join(dest, "nova.yaml"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FilesRestored)
	assert.Equal(t, []string{filepath.Join(dest, "nova.yaml")}, res.Skipped)

	got, err := os.ReadFile(filepath.Join(dest, "data", "nova.bolt"))
	require.NoError(t, err)
	assert.Equal(t, "bolt-bytes", string(got))
	conf, _ := os.ReadFile(filepath.Join(dest, "nova.yaml"))
	assert.Equal(t, "local", string(conf), "config kept without overwrite")
}

// writeRaw builds an archive by hand so members can be tampered with.
func writeRaw(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644, Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, out.Close())
}

func TestRestoreRejectsCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tar.gz")
	writeRaw(t, path, map[string]string{
		"data/nova.bolt": "tampered",
		ManifestName:     `{"version":1,"files":{"data/nova.bolt":{"sha256":"00","size":8,"type":"bolt"}}}`,
	})
	dest := filepath.Join(dir, "restored.bolt")
	_, err := Restore(RestoreParams{ArchivePath: path, BoltDest: dest})
	assert.ErrorIs(t, err, ErrChecksum)
	assert.NoFileExists(t, dest)

	evil := filepath.Join(dir, "evil.tar.gz")
	writeRaw(t, evil, map[string]string{"../escape": "x"})
	_, err = Restore(RestoreParams{ArchivePath: evil})
	assert.ErrorContains(t, err, "invalid archive entry")

	_, err = Restore(RestoreParams{ArchivePath: filepath.Join(dir, "missing.tar.gz")})
	assert.Error(t, err)
}

func TestListAndPrune(t *testing.T) {
	f := newFixture(t)
	for i := range 4 {
		path, err := Create(f.params())
		require.NoError(t, err)
		require.NoError(t, os.Rename(path, filepath.Join(f.out, fmt.Sprintf("nova-%d.tar.gz", i))))
	}

	archives, err := List(f.out)
	require.NoError(t, err)
	require.Len(t, archives, 4)
	assert.Equal(t, 2, archives[0].Worlds)

	removed, err := Prune(f.out, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	archives, err = List(f.out)
	require.NoError(t, err)
	require.Len(t, archives, 2)

	removed, err = Prune(f.out, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
