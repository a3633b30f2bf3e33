package ledserial

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomingPackets(t *testing.T) {
	ctx := ReadContext{NumChannels: 3}
	packets := []IncomingPacket{
		InitializePacket{NumChannels: 3},
		ClearPacket{},
		SetPacket{Magnitudes: []uint16{0, 1000, 65535}},
	}

	var buf bytes.Buffer
	for _, p := range packets {
		require.NoError(t, WriteIncomingPacket(&buf, p))
	}

	for _, want := range packets {
		got, err := ReadIncomingPacket(&buf, ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, buf.Len())
}

func TestSetPacketLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIncomingPacket(&buf, SetPacket{Magnitudes: []uint16{0x0102, 0xa0b0}}))

	b := buf.Bytes()
	require.Len(t, b, 1+4+4)
	assert.Equal(t, []byte{byte(TypeSetPacket), 0x02, 0x01, 0xb0, 0xa0}, b[:5])
}

func TestOutgoingPackets(t *testing.T) {
	packets := []OutgoingPacket{
		AckPacket{IncomingPacketType: TypeSetPacket},
		ErrorPacket{Message: "bad frame"},
		PanicPacket{Message: "watchdog"},
		LogPacket{Message: ""},
	}

	var buf bytes.Buffer
	for _, p := range packets {
		require.NoError(t, WriteOutgoingPacket(&buf, p))
	}

	for _, want := range packets {
		got, err := ReadOutgoingPacket(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutgoingPacket(&buf, LogPacket{Message: "hello"}))

	b := buf.Bytes()
	b[4] ^= 0xff // corrupt the message

	_, err := ReadOutgoingPacket(bytes.NewReader(b))
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestUnknownPacketType(t *testing.T) {
	_, err := ReadIncomingPacket(bytes.NewReader([]byte{0x7f}), ReadContext{})
	assert.ErrorContains(t, err, "IncomingPacketType(127)")

	_, err = ReadOutgoingPacket(bytes.NewReader([]byte{0x7f}))
	assert.ErrorContains(t, err, "OutgoingPacketType(127)")
}

func TestShortRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIncomingPacket(&buf, SetPacket{Magnitudes: []uint16{1, 2}}))

	_, err := ReadIncomingPacket(bytes.NewReader(buf.Bytes()[:3]), ReadContext{NumChannels: 2})
	assert.Error(t, err)
}
