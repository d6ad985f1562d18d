package world

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
)

// Item ids used by the generator.
const (
	ItemBlank          uint16 = 0
	ItemDirt           uint16 = 2
	ItemLava           uint16 = 4
	ItemMainDoor       uint16 = 6
	ItemBedrock        uint16 = 8
	ItemRock           uint16 = 10
	ItemCaveBackground uint16 = 14
)

// Default generated world size in tiles.
const (
	DefaultWidth  = 100
	DefaultHeight = 60
)

const mapVersion = 0x14

// tile flag with an extra-data record following the tile
const tileHasExtra uint16 = 0x1

// Tile is one cell of a world layout.
type Tile struct {
	Foreground uint16
	Background uint16
	Flags      uint16
	DoorLabel  string
}

// Layout is the tile grid of a world.
type Layout struct {
	Name   string
	Width  int
	Height int
	Tiles  []Tile
	Door   Vec2
}

// Generate builds a fresh layout: sky above, dirt with scattered rock and
// lava below, bedrock at the bottom and a main door on the surface. The same
// name always yields the same layout.
func Generate(name string, width, height int) *Layout {
	h := fnv.New64a()
	h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(width)<<32|uint64(height)))

	l := &Layout{Name: name, Width: width, Height: height, Tiles: make([]Tile, width*height)}
	surface := height * 2 / 5
	bedrock := height - 6
	doorX := rng.IntN(width-2) + 1

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := &l.Tiles[y*width+x]
			switch {
			case y >= bedrock:
				t.Foreground, t.Background = ItemBedrock, ItemCaveBackground
			case y > surface:
				t.Background = ItemCaveBackground
				t.Foreground = ItemDirt
				if y > surface+5 && rng.IntN(38) == 0 {
					t.Foreground = ItemRock
				}
				if y > bedrock-5 && rng.IntN(20) == 0 {
					t.Foreground = ItemLava
				}
			case y == surface:
				t.Foreground, t.Background = ItemDirt, ItemCaveBackground
			}
		}
	}

	door := &l.Tiles[(surface-1)*width+doorX]
	door.Foreground = ItemMainDoor
	door.Flags |= tileHasExtra
	door.DoorLabel = "EXIT"
	l.Tiles[surface*width+doorX].Foreground = ItemBedrock
	l.Door = Vec2{X: float32(doorX * 32), Y: float32((surface - 1) * 32)}
	return l
}

// Encode serializes the layout into the map data carried by SendMapData.
func (l *Layout) Encode() []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	put := func(v any) { binary.Write(&buf, le, v) }

	put(uint16(mapVersion))
	put(uint32(0))
	put(uint16(len(l.Name)))
	buf.WriteString(l.Name)
	put(uint32(l.Width))
	put(uint32(l.Height))
	put(uint32(len(l.Tiles)))
	for _, t := range l.Tiles {
		put(t.Foreground)
		put(t.Background)
		put(uint16(0)) // parent tile
		put(t.Flags)
		if t.Flags&tileHasExtra != 0 {
			buf.WriteByte(1) // door
			put(uint16(len(t.DoorLabel)))
			buf.WriteString(t.DoorLabel)
			buf.WriteByte(0)
		}
	}
	put(uint32(0)) // dropped objects
	put(uint32(0)) // last dropped id
	buf.Write(make([]byte, 12))
	return buf.Bytes()
}
