package dht

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/limits"
	"github.com/opd-ai/opendht/transport"
)

// valuesBudget leaves room in a packet for the envelope around the values.
const valuesBudget = limits.MaxPacketSize - 4096

// registerHandlers wires every packet type to its handler.
func (e *Engine) registerHandlers(t transport.Transport) {
	t.RegisterHandler(transport.PacketPing, e.handlePing)
	t.RegisterHandler(transport.PacketFindNode, e.handleFindNode)
	t.RegisterHandler(transport.PacketStore, e.handleStore)
	t.RegisterHandler(transport.PacketFindValue, e.handleFindValue)
	t.RegisterHandler(transport.PacketListen, e.handleListen)
	t.RegisterHandler(transport.PacketNotify, e.handleNotify)

	for _, rt := range []transport.PacketType{
		transport.PacketPong,
		transport.PacketNodes,
		transport.PacketStored,
		transport.PacketValues,
	} {
		t.RegisterHandler(rt, e.handleResponse)
	}
}

// decode parses an incoming message and records its sender in the routing
// table.
func (e *Engine) decode(packet *transport.Packet, addr net.Addr) (*transport.Message, netip.AddrPort, error) {
	msg, err := packet.Message()
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	ap, ok := addrPortOf(addr)
	if !ok {
		return nil, netip.AddrPort{}, fmt.Errorf("unusable source address %s", addr)
	}
	e.observe(msg, ap)
	return msg, ap, nil
}

func (e *Engine) observe(msg *transport.Message, from netip.AddrPort) {
	if msg.Sender.IsZero() || msg.Sender == e.selfID {
		return
	}
	node := NewNode(msg.Sender, from, e.clock.Now())
	node.Status = StatusGood
	e.routing.AddNode(node)
	e.maintainer.UpdateActivity(node.LastSeen)
}

func (e *Engine) reply(to net.Addr, t transport.PacketType, req, resp *transport.Message) error {
	resp.TxID = req.TxID
	resp.Sender = e.selfID
	packet, err := transport.NewMessagePacket(t, resp)
	if err != nil {
		return err
	}
	return e.transport.Send(packet, to)
}

func (e *Engine) closestInfos(msg *transport.Message) []transport.NodeInfo {
	nodes := e.routing.FindClosestNodes(msg.Target, e.bucketSize())
	infos := make([]transport.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, n.Info())
	}
	return infos
}

func (e *Engine) handlePing(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	return e.reply(addr, transport.PacketPong, msg, &transport.Message{})
}

func (e *Engine) handleFindNode(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	return e.reply(addr, transport.PacketNodes, msg, &transport.Message{
		Target: msg.Target,
		Nodes:  e.closestInfos(msg),
	})
}

func (e *Engine) handleStore(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}

	accepted := false
	for _, v := range msg.Values {
		if limits.ValidateValue(v) == nil {
			accepted = true
		}
	}
	e.storeValues(msg.Target, msg.Values)

	logrus.WithFields(logrus.Fields{
		"function": "handleStore",
		"key":      msg.Target.String(),
		"values":   len(msg.Values),
		"from":     addr.String(),
	}).Debug("Stored values for remote node")

	return e.reply(addr, transport.PacketStored, msg, &transport.Message{
		Target: msg.Target,
		OK:     accepted,
	})
}

func (e *Engine) handleFindValue(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	return e.reply(addr, transport.PacketValues, msg, &transport.Message{
		Target: msg.Target,
		Values: fitValues(e.storage.Get(msg.Target), valuesBudget),
		Nodes:  e.closestInfos(msg),
	})
}

func (e *Engine) handleListen(packet *transport.Packet, addr net.Addr) error {
	msg, from, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	e.listeners.AddRemote(msg.Target, from, e.clock.Now().Add(RemoteListenerLifetime))
	return e.reply(addr, transport.PacketValues, msg, &transport.Message{
		Target: msg.Target,
		Values: fitValues(e.storage.Get(msg.Target), valuesBudget),
		Nodes:  e.closestInfos(msg),
	})
}

func (e *Engine) handleNotify(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	e.listeners.NotifyLocal(msg.Target, msg.Values)
	return nil
}

func (e *Engine) handleResponse(packet *transport.Packet, addr net.Addr) error {
	msg, _, err := e.decode(packet, addr)
	if err != nil {
		return err
	}
	if !e.rpc.complete(msg) {
		logrus.WithFields(logrus.Fields{
			"function":    "handleResponse",
			"packet_type": packet.PacketType.String(),
			"tx":          msg.TxID,
			"from":        addr.String(),
		}).Debug("Response for unknown or expired transaction")
	}
	return nil
}

// fitValues returns the longest prefix of values whose total size fits in
// budget.
func fitValues(values [][]byte, budget int) [][]byte {
	total := 0
	for i, v := range values {
		total += len(v) + 5
		if total > budget {
			return values[:i]
		}
	}
	return values
}
