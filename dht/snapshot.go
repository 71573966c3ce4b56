package dht

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/opendht/transport"
)

// ExportNodes encodes nodes as a msgpack list of node records, the format
// Serialize produces and Deserialize accepts.
func ExportNodes(nodes []*Node) ([]byte, error) {
	records := make([]transport.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		records = append(records, n.Info())
	}
	return msgpack.Marshal(records)
}

// DecodeNodes parses the output of ExportNodes. Records with unusable
// addresses are skipped. An empty buffer decodes to no nodes.
func DecodeNodes(data []byte, now time.Time) ([]*Node, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var records []transport.NodeInfo
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode node snapshot: %w", err)
	}

	nodes := make([]*Node, 0, len(records))
	for _, r := range records {
		n, err := nodeFromInfo(r, now)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
