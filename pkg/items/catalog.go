// Package items serves the client item database. The raw items.dat file is
// wrapped once into the SendItemDatabaseData packet and rebuilt whenever the
// file changes on disk.
package items

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/proto"
)

var ErrBadItemsFile = errors.New("items: malformed items.dat")

// headerSize is the items.dat prefix: u16 version, u32 item count.
const headerSize = 6

// Info describes the currently loaded item database.
type Info struct {
	Version  uint16
	Count    uint32
	Size     int
	Hash     uint32
	LoadedAt time.Time
}

// Catalog holds the encoded item update packet.
type Catalog struct {
	path string
	log  *zap.Logger

	mu     sync.RWMutex
	packet []byte
	info   Info
}

// NewCatalog creates a catalog for path and attempts an initial load. A
// missing or malformed file leaves the catalog unavailable without failing.
func NewCatalog(path string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{path: path, log: log.Named("items")}
	if path == "" {
		return c
	}
	if err := c.Reload(); err != nil {
		c.log.Warn("item database unavailable", zap.String("path", path), zap.Error(err))
	}
	return c
}

// Reload reads the file and rebuilds the update packet. On error the
// previous packet is kept.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("items: read %s: %w", c.path, err)
	}
	return c.Set(data)
}

// Set replaces the item database with data.
func (c *Catalog) Set(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: %d bytes", ErrBadItemsFile, len(data))
	}
	info := Info{
		Version:  binary.LittleEndian.Uint16(data),
		Count:    binary.LittleEndian.Uint32(data[2:]),
		Size:     len(data),
		Hash:     ProtonHash(data),
		LoadedAt: time.Now(),
	}
	packet := proto.EncodeGamePacket(&proto.TankPacket{
		Type:  proto.PacketSendItemDatabaseData,
		NetID: -1,
		Flags: proto.FlagExtended,
		Ext:   data,
	})

	c.mu.Lock()
	c.packet = packet
	c.info = info
	c.mu.Unlock()

	c.log.Info("item database loaded",
		zap.Uint16("version", info.Version),
		zap.Uint32("items", info.Count),
		zap.Int("bytes", info.Size),
		zap.Uint32("hash", info.Hash))
	return nil
}

// UpdatePacket returns the SendItemDatabaseData envelope, or false when no
// item database is loaded.
func (c *Catalog) UpdatePacket() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packet, c.packet != nil
}

// Info returns metadata of the loaded database. Zero when unavailable.
func (c *Catalog) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// ProtonHash is the rolling hash clients use to decide whether their cached
// items.dat is current.
func ProtonHash(data []byte) uint32 {
	h := uint32(0x55555555)
	for _, b := range data {
		h = (h >> 27) + (h << 5) + uint32(b)
	}
	return h
}
