package rudp

import (
	"encoding/binary"
	"fmt"
)

// Datagram kinds (spec.md §3/§6).
const (
	KindHandshake byte = 0
	KindKeepalive byte = 1
	KindData      byte = 2
	KindAck       byte = 3
)

// flagAck marks that the ack field is present in the header.
const flagAck byte = 1 << 0

// headerMinSize is kind+flags+sequence, with no ack field present.
const headerMinSize = 1 + 1 + 4

// headerMaxSize adds the optional ack field.
const headerMaxSize = headerMinSize + 4

// MTU bounds the payload size of a single DATA datagram, matching the
// typical substrate ceiling noted in spec.md §6 (IPv4 Ethernet UDP).
const MTU = 1472

// maxDatagramSize is the largest buffer a read needs: header plus payload.
const maxDatagramSize = headerMaxSize + MTU

// header is the on-wire format shared by all four datagram kinds.
type header struct {
	Kind       byte
	Seq        Sequence
	Ack        Sequence
	AckPresent bool
	Payload    []byte
}

// encode serializes h to wire bytes (network byte order).
func (h *header) encode() []byte {
	size := headerMinSize
	if h.AckPresent {
		size = headerMaxSize
	}
	buf := make([]byte, size, size+len(h.Payload))

	flags := byte(0)
	if h.AckPresent {
		flags |= flagAck
	}
	buf[0] = h.Kind
	buf[1] = flags
	binary.BigEndian.PutUint32(buf[2:6], uint32(h.Seq))
	if h.AckPresent {
		binary.BigEndian.PutUint32(buf[6:10], uint32(h.Ack))
	}
	buf = append(buf, h.Payload...)
	return buf
}

// decodeHeader parses data into a header. Payload aliases the tail of data.
func decodeHeader(data []byte) (header, error) {
	if len(data) < headerMinSize {
		return header{}, fmt.Errorf("rudp: short datagram (%d bytes)", len(data))
	}
	var h header
	h.Kind = data[0]
	flags := data[1]
	h.AckPresent = flags&flagAck != 0
	h.Seq = Sequence(binary.BigEndian.Uint32(data[2:6]))

	off := headerMinSize
	if h.AckPresent {
		if len(data) < headerMaxSize {
			return header{}, fmt.Errorf("rudp: short datagram for ack field (%d bytes)", len(data))
		}
		h.Ack = Sequence(binary.BigEndian.Uint32(data[6:10]))
		off = headerMaxSize
	}

	switch h.Kind {
	case KindHandshake, KindKeepalive, KindAck:
		if len(data) != off {
			return header{}, fmt.Errorf("rudp: unexpected payload on kind %d", h.Kind)
		}
	case KindData:
		if len(data) == off {
			return header{}, fmt.Errorf("rudp: empty payload on DATA datagram")
		}
	default:
		return header{}, fmt.Errorf("rudp: unknown datagram kind %d", h.Kind)
	}

	if len(data) > off {
		h.Payload = data[off:]
	}
	return h, nil
}
