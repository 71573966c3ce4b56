package transport

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/limits"
)

// PacketType identifies the type of a DHT packet.
type PacketType byte

const (
	PacketPing PacketType = iota + 1
	PacketPong
	PacketFindNode
	PacketNodes
	PacketStore
	PacketStored
	PacketFindValue
	PacketValues
	PacketListen
	PacketNotify
)

var packetNames = map[PacketType]string{
	PacketPing:      "ping",
	PacketPong:      "pong",
	PacketFindNode:  "find_node",
	PacketNodes:     "nodes",
	PacketStore:     "store",
	PacketStored:    "stored",
	PacketFindValue: "find_value",
	PacketValues:    "values",
	PacketListen:    "listen",
	PacketNotify:    "notify",
}

func (t PacketType) String() string {
	if name, ok := packetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// IsResponse reports whether packets of this type answer a request.
func (t PacketType) IsResponse() bool {
	switch t {
	case PacketPong, PacketNodes, PacketStored, PacketValues:
		return true
	}
	return false
}

// ErrPacketTooShort is returned for datagrams without a type byte.
var ErrPacketTooShort = errors.New("packet too short")

// Packet represents a DHT protocol packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	if err := limits.ValidatePacket(result); err != nil {
		return nil, err
	}
	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}
	copy(packet.Data, data[1:])

	return packet, nil
}

// NodeInfo is a peer as it appears on the wire.
type NodeInfo struct {
	ID   crypto.ID `msgpack:"id"`
	Addr string    `msgpack:"addr"`
}

// Message is the body of every packet.
type Message struct {
	TxID   uint32     `msgpack:"t"`
	Sender crypto.ID  `msgpack:"s"`
	Target crypto.ID  `msgpack:"k"`
	Values [][]byte   `msgpack:"v,omitempty"`
	Nodes  []NodeInfo `msgpack:"n,omitempty"`
	OK     bool       `msgpack:"ok,omitempty"`
}

// NewMessagePacket encodes msg as the body of a packet of type t.
func NewMessagePacket(t PacketType, msg *Message) (*Packet, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return &Packet{PacketType: t, Data: data}, nil
}

// Message decodes the packet body.
func (p *Packet) Message() (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(p.Data, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.PacketType, err)
	}
	return &msg, nil
}
