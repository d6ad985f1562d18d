package proto

import (
	"bytes"
	"encoding/binary"
	"math"
)

// VariantKind tags one entry of a variant list.
type VariantKind uint8

const (
	VariantFloat  VariantKind = 1
	VariantString VariantKind = 2
	VariantVec2   VariantKind = 3
	VariantVec3   VariantKind = 4
	VariantUint   VariantKind = 5
	VariantInt    VariantKind = 9
)

// Variant is a single CALL_FUNCTION argument.
type Variant struct {
	Kind   VariantKind
	Float  [3]float32
	String string
	Uint   uint32
	Int    int32
}

// Str returns a string variant.
func Str(s string) Variant { return Variant{Kind: VariantString, String: s} }

// Float returns a float variant.
func Float(f float32) Variant { return Variant{Kind: VariantFloat, Float: [3]float32{f}} }

// Vec2 returns a two-component vector variant.
func Vec2(x, y float32) Variant { return Variant{Kind: VariantVec2, Float: [3]float32{x, y}} }

// Vec3 returns a three-component vector variant.
func Vec3(x, y, z float32) Variant { return Variant{Kind: VariantVec3, Float: [3]float32{x, y, z}} }

// Uint returns an unsigned variant.
func Uint(v uint32) Variant { return Variant{Kind: VariantUint, Uint: v} }

// Int returns a signed variant.
func Int(v int32) Variant { return Variant{Kind: VariantInt, Int: v} }

// VariantList is the argument list of a CALL_FUNCTION packet. By convention
// the first entry is the function name.
type VariantList []Variant

// Encode serializes the list into the extended-data layout.
func (vl VariantList) Encode() []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	u32 := func(v uint32) {
		var b [4]byte
		le.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	buf.WriteByte(byte(len(vl)))
	for i, v := range vl {
		buf.WriteByte(byte(i))
		buf.WriteByte(byte(v.Kind))
		switch v.Kind {
		case VariantFloat:
			u32(math.Float32bits(v.Float[0]))
		case VariantVec2:
			u32(math.Float32bits(v.Float[0]))
			u32(math.Float32bits(v.Float[1]))
		case VariantVec3:
			for _, f := range v.Float {
				u32(math.Float32bits(f))
			}
		case VariantString:
			u32(uint32(len(v.String)))
			buf.WriteString(v.String)
		case VariantUint:
			u32(v.Uint)
		case VariantInt:
			u32(uint32(v.Int))
		}
	}
	return buf.Bytes()
}

// CallFunction builds a GAME_PACKET envelope invoking a client-side function.
// netID -1 targets the local client.
func CallFunction(netID int32, delayMS int32, args ...Variant) []byte {
	tp := &TankPacket{
		Type:    PacketCallFunction,
		NetID:   netID,
		IntData: delayMS,
		Ext:     VariantList(args).Encode(),
	}
	return EncodeGamePacket(tp)
}

// ConsoleMessage builds an OnConsoleMessage call for the local client.
func ConsoleMessage(text string) []byte {
	return CallFunction(-1, 0, Str("OnConsoleMessage"), Str(text))
}
