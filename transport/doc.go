// Package transport implements the UDP transport used by the pure-Go DHT
// engine.
//
// Every datagram is a one-byte PacketType followed by a msgpack-encoded
// Message. One envelope type covers every request and response; fields a
// packet type does not use are omitted on the wire.
//
// Example:
//
//	t, err := transport.NewUDPTransport("0.0.0.0:4222")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
//
//	t.RegisterHandler(transport.PacketPing, func(p *transport.Packet, addr net.Addr) error {
//	    msg, err := p.Message()
//	    if err != nil {
//	        return err
//	    }
//	    reply, err := transport.NewMessagePacket(transport.PacketPong, &transport.Message{TxID: msg.TxID})
//	    if err != nil {
//	        return err
//	    }
//	    return t.Send(reply, addr)
//	})
//
// Handlers run on their own goroutines. Close waits for the read loop and
// every running handler to return.
package transport
