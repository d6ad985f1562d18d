package proto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		ok   bool
		typ  MsgType
	}{
		{"nil buffer", nil, false, 0},
		{"empty", []byte{}, false, 0},
		{"three bytes", []byte{2, 0, 0}, false, 0},
		{"tag only", []byte{4, 0, 0, 0}, true, MsgGamePacket},
		{"text", EncodeText(MsgGenericText, "hi"), true, MsgGenericText},
		{"unknown tag", []byte{0xff, 0, 0, 0, 1}, true, MsgType(0xff)},
	}
	for _, tt := range tests {
		env, err := ParseEnvelope(tt.buf)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrMalformedEnvelope, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.typ, env.Type, tt.name)
		assert.Equal(t, len(tt.buf), env.Len(), tt.name)
	}
}

func TestTextViewDoesNotMutate(t *testing.T) {
	buf := []byte{3, 0, 0, 0, 'a', 'c', 't', 'i', 'o', 'n', '|', 'q', 'u', 'i', 't', 'X'}
	orig := append([]byte(nil), buf...)

	assert.Equal(t, "action|quit", TextView(buf))
	assert.Equal(t, orig, buf, "inbound buffer must stay untouched")
}

func TestTextViewBounds(t *testing.T) {
	assert.Equal(t, "", TextView([]byte{2, 0, 0, 0}))
	assert.Equal(t, "", TextView([]byte{2, 0, 0, 0, 'x'}))
	assert.Equal(t, "ab", TextView([]byte{2, 0, 0, 0, 'a', 'b', 0, 'c', 0}))
	assert.Equal(t, "requestedName|test|", TextView(EncodeText(MsgGenericText, "requestedName|test|")))
}

func TestParseAction(t *testing.T) {
	ap := ParseAction("tankIDName|alice\ntankIDPass|secret\nrequestedName|ignored\ntankIDName|second")

	assert.Equal(t, "alice", ap.Value("tankIDName"))
	assert.Equal(t, "secret", ap.Value("tankIDPass"))
	_, ok := ap.Get("missing")
	assert.False(t, ok)

	ap = ParseAction("requestedName|test|")
	assert.Equal(t, []string{"requestedName", "test", ""}, ap.Tokens())
	assert.Equal(t, "test|", ap.Value("requestedName"))

	ap = ParseAction("action|join_request\nname|START\ninvitedWorld|0")
	assert.Equal(t, "join_request", ap.Action())
	assert.Equal(t, "START", ap.Value("name"))
}

func TestTankPacketRoundTrip(t *testing.T) {
	in := TankPacket{
		Type:     PacketState,
		NetID:    7,
		Flags:    0x20,
		PosX:     32.5,
		PosY:     -64,
		SpeedX:   1.25,
		TileX:    3,
		TileY:    -1,
		IntData:  99,
		FloatVar: 0.5,
	}
	raw, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, TankHeaderSize)

	out, err := DecodeTankPacket(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, out.Extended())
}

func TestTankPacketExtendedFlag(t *testing.T) {
	tp := TankPacket{Type: PacketSendItemDatabaseData, Ext: []byte{1, 2, 3}}
	raw, err := tp.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, TankHeaderSize+3)

	out, err := DecodeTankPacket(raw)
	require.NoError(t, err)
	assert.True(t, out.Extended())
	assert.Equal(t, uint32(3), out.ExtDataSize)
	assert.Nil(t, out.Ext, "extended tail is not decoded")

	_, err = DecodeTankPacket(raw[:TankHeaderSize-1])
	assert.ErrorIs(t, err, ErrShortTankPacket)
}

func TestEncodeGamePacketSize(t *testing.T) {
	env := EncodeGamePacket(&TankPacket{Type: PacketState})
	assert.Len(t, env, GamePacketMinSize)
	assert.Equal(t, uint32(MsgGamePacket), binary.LittleEndian.Uint32(env))
}

func TestVariantListEncode(t *testing.T) {
	vl := VariantList{Str("OnConsoleMessage"), Int(-2), Vec2(1, 2)}
	b := vl.Encode()

	require.Equal(t, byte(3), b[0])
	assert.Equal(t, byte(0), b[1])
	assert.Equal(t, byte(VariantString), b[2])
	assert.Equal(t, uint32(len("OnConsoleMessage")), binary.LittleEndian.Uint32(b[3:]))
	assert.Equal(t, "OnConsoleMessage", string(b[7:7+16]))

	off := 7 + 16
	assert.Equal(t, byte(1), b[off])
	assert.Equal(t, byte(VariantInt), b[off+1])
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(b[off+2:])))
	assert.Len(t, b, off+6+2+8)
}

func TestConsoleMessage(t *testing.T) {
	env := ConsoleMessage("hello")
	tp, err := DecodeTankPacket(env[HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, PacketCallFunction, tp.Type)
	assert.Equal(t, int32(-1), tp.NetID)
	assert.True(t, tp.Extended())
	assert.Equal(t, int(tp.ExtDataSize), len(env)-GamePacketMinSize)
}
