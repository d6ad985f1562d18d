package items

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/proto"
)

func itemsFile(version uint16, count uint32, body string) []byte {
	b := make([]byte, headerSize, headerSize+len(body))
	binary.LittleEndian.PutUint16(b, version)
	binary.LittleEndian.PutUint32(b[2:], count)
	return append(b, body...)
}

func TestCatalogUnavailable(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "missing.dat"), zap.NewNop())
	_, ok := c.UpdatePacket()
	assert.False(t, ok)
	assert.Zero(t, c.Info().Hash)

	assert.ErrorIs(t, c.Set([]byte{1, 2}), ErrBadItemsFile)
	_, ok = c.UpdatePacket()
	assert.False(t, ok)
}

func TestCatalogPacket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	data := itemsFile(15, 2, "itemdata")
	require.NoError(t, os.WriteFile(path, data, 0644))

	c := NewCatalog(path, zap.NewNop())
	pkt, ok := c.UpdatePacket()
	require.True(t, ok)

	tp, err := proto.DecodeTankPacket(pkt[proto.HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, proto.PacketSendItemDatabaseData, tp.Type)
	assert.True(t, tp.Extended())
	assert.Equal(t, uint32(len(data)), tp.ExtDataSize)
	assert.Equal(t, data, pkt[proto.GamePacketMinSize:])

	info := c.Info()
	assert.Equal(t, uint16(15), info.Version)
	assert.Equal(t, uint32(2), info.Count)
	assert.Equal(t, ProtonHash(data), info.Hash)
}

func TestCatalogKeepsPreviousOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	require.NoError(t, os.WriteFile(path, itemsFile(1, 1, "x"), 0644))
	c := NewCatalog(path, zap.NewNop())
	before, _ := c.UpdatePacket()

	require.NoError(t, os.WriteFile(path, []byte{1}, 0644))
	assert.Error(t, c.Reload())
	after, ok := c.UpdatePacket()
	assert.True(t, ok)
	assert.Equal(t, before, after)
}

func TestCatalogWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.dat")
	require.NoError(t, os.WriteFile(path, itemsFile(1, 1, "a"), 0644))
	c := NewCatalog(path, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	require.NoError(t, os.WriteFile(path, itemsFile(2, 5, "bb"), 0644))
	assert.Eventually(t, func() bool {
		return c.Info().Count == 5
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProtonHash(t *testing.T) {
	assert.Equal(t, uint32(0x55555555), ProtonHash(nil))
	assert.NotEqual(t, ProtonHash([]byte("a")), ProtonHash([]byte("b")))
}
