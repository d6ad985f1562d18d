package proto

import (
	"encoding/binary"
	"errors"
	"math"
)

// PacketType is the sub-tag carried in the first byte of a tank packet.
type PacketType uint8

const (
	PacketState                PacketType = 0
	PacketCallFunction         PacketType = 1
	PacketUpdateStatus         PacketType = 2
	PacketTileChangeRequest    PacketType = 3
	PacketSendMapData          PacketType = 4
	PacketSendTileUpdateData   PacketType = 5
	PacketSendTileUpdateMulti  PacketType = 6
	PacketTileActivateRequest  PacketType = 7
	PacketTileApplyDamage      PacketType = 8
	PacketSendInventoryState   PacketType = 9
	PacketItemActivateRequest  PacketType = 10
	PacketItemActivateObject   PacketType = 11
	PacketSendTileTreeState    PacketType = 12
	PacketModifyItemInventory  PacketType = 13
	PacketItemChangeObject     PacketType = 14
	PacketSendLock             PacketType = 15
	PacketSendItemDatabaseData PacketType = 16
)

// Tank packet flag bits.
const (
	FlagExtended uint32 = 0x8
)

// Tank packet sizes. A GAME_PACKET envelope is the 4-byte tag followed by the
// 56-byte record; clients may append one terminator byte.
const (
	TankHeaderSize    = 56
	GamePacketMinSize = HeaderSize + TankHeaderSize
	GamePacketMaxSize = GamePacketMinSize + 1
)

var ErrShortTankPacket = errors.New("proto: tank packet shorter than 56 bytes")

// TankPacket is the fixed-layout structured record of a GAME_PACKET.
type TankPacket struct {
	Type        PacketType
	ObjType     uint8
	Count1      uint8
	Count2      uint8
	NetID       int32
	Item        int32
	Flags       uint32
	FloatVar    float32
	IntData     int32
	PosX        float32
	PosY        float32
	SpeedX      float32
	SpeedY      float32
	ParticleRot float32
	TileX       int32
	TileY       int32
	ExtDataSize uint32

	// Ext is the variable-length tail present when FlagExtended is set.
	// Decoding never fills it from inbound traffic.
	Ext []byte
}

// Extended reports whether the extended flag bit is set.
func (p *TankPacket) Extended() bool { return p.Flags&FlagExtended != 0 }

// DecodeTankPacket decodes the fixed 56-byte header from window. The
// extended tail is not read; its length is reported in ExtDataSize only.
func DecodeTankPacket(window []byte) (TankPacket, error) {
	if len(window) < TankHeaderSize {
		return TankPacket{}, ErrShortTankPacket
	}
	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(window[off:])) }
	return TankPacket{
		Type:        PacketType(window[0]),
		ObjType:     window[1],
		Count1:      window[2],
		Count2:      window[3],
		NetID:       int32(le.Uint32(window[4:])),
		Item:        int32(le.Uint32(window[8:])),
		Flags:       le.Uint32(window[12:]),
		FloatVar:    f32(16),
		IntData:     int32(le.Uint32(window[20:])),
		PosX:        f32(24),
		PosY:        f32(28),
		SpeedX:      f32(32),
		SpeedY:      f32(36),
		ParticleRot: f32(40),
		TileX:       int32(le.Uint32(window[44:])),
		TileY:       int32(le.Uint32(window[48:])),
		ExtDataSize: le.Uint32(window[52:]),
	}, nil
}

// MarshalBinary encodes the header followed by Ext. When Ext is non-empty the
// extended flag and ExtDataSize are set from it.
func (p *TankPacket) MarshalBinary() ([]byte, error) {
	flags, size := p.Flags, p.ExtDataSize
	if len(p.Ext) > 0 {
		flags |= FlagExtended
		size = uint32(len(p.Ext))
	}
	buf := make([]byte, TankHeaderSize+len(p.Ext))
	le := binary.LittleEndian
	buf[0] = byte(p.Type)
	buf[1] = p.ObjType
	buf[2] = p.Count1
	buf[3] = p.Count2
	le.PutUint32(buf[4:], uint32(p.NetID))
	le.PutUint32(buf[8:], uint32(p.Item))
	le.PutUint32(buf[12:], flags)
	le.PutUint32(buf[16:], math.Float32bits(p.FloatVar))
	le.PutUint32(buf[20:], uint32(p.IntData))
	le.PutUint32(buf[24:], math.Float32bits(p.PosX))
	le.PutUint32(buf[28:], math.Float32bits(p.PosY))
	le.PutUint32(buf[32:], math.Float32bits(p.SpeedX))
	le.PutUint32(buf[36:], math.Float32bits(p.SpeedY))
	le.PutUint32(buf[40:], math.Float32bits(p.ParticleRot))
	le.PutUint32(buf[44:], uint32(p.TileX))
	le.PutUint32(buf[48:], uint32(p.TileY))
	le.PutUint32(buf[52:], size)
	copy(buf[TankHeaderSize:], p.Ext)
	return buf, nil
}

// EncodeGamePacket wraps a tank packet into a GAME_PACKET envelope.
func EncodeGamePacket(p *TankPacket) []byte {
	body, _ := p.MarshalBinary()
	buf := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(MsgGamePacket))
	copy(buf[HeaderSize:], body)
	return buf
}
