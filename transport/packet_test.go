package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/limits"
)

func TestPacketSerialize(t *testing.T) {
	tests := []struct {
		name    string
		packet  *Packet
		want    []byte
		wantErr bool
	}{
		{
			name:   "ping with body",
			packet: &Packet{PacketType: PacketPing, Data: []byte{1, 2, 3}},
			want:   []byte{byte(PacketPing), 1, 2, 3},
		},
		{
			name:   "empty body",
			packet: &Packet{PacketType: PacketPong, Data: []byte{}},
			want:   []byte{byte(PacketPong)},
		},
		{
			name:    "nil body",
			packet:  &Packet{PacketType: PacketPong},
			wantErr: true,
		},
		{
			name:    "oversized",
			packet:  &Packet{PacketType: PacketValues, Data: make([]byte, limits.MaxPacketSize)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.packet.Serialize()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Serialize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePacket(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.ErrorIs(t, err, ErrPacketTooShort)

	raw := []byte{byte(PacketStore), 9, 9}
	p, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, PacketStore, p.PacketType)
	assert.Equal(t, []byte{9, 9}, p.Data)

	raw[1] = 0
	assert.Equal(t, []byte{9, 9}, p.Data, "parsed data must not alias the read buffer")
}

func TestMessagePacket(t *testing.T) {
	msg := &Message{
		TxID:   42,
		Sender: crypto.Sum([]byte("sender")),
		Target: crypto.Sum([]byte("foo")),
		Values: [][]byte{{9, 9, 9}, []byte("x")},
		Nodes:  []NodeInfo{{ID: crypto.Sum([]byte("n")), Addr: "127.0.0.1:4222"}},
		OK:     true,
	}

	p, err := NewMessagePacket(PacketValues, msg)
	require.NoError(t, err)
	raw, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(raw)
	require.NoError(t, err)
	got, err := parsed.Message()
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = (&Packet{PacketType: PacketPing, Data: []byte{0xc1}}).Message()
	assert.Error(t, err)
}

func TestPacketType(t *testing.T) {
	assert.Equal(t, "find_value", PacketFindValue.String())
	assert.Equal(t, "unknown(200)", PacketType(200).String())
	assert.True(t, PacketNodes.IsResponse())
	assert.False(t, PacketListen.IsResponse())
	assert.False(t, PacketNotify.IsResponse())
}
