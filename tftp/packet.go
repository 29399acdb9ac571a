package tftp

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

const (
	// BlockSize is the fixed DATA payload size from RFC 1350. A payload
	// shorter than this ends the transfer.
	BlockSize = 512

	headerSize   = 4
	datagramSize = headerSize + BlockSize
)

// Parse decodes a datagram payload into a Command. It never fails: anything
// that does not decode comes back as an *ErrorPacket with code 4, which the
// engine propagates to the peer.
func Parse(buf []byte) Command {
	if len(buf) < 2 {
		return malformed()
	}
	opcode := Opcode(binary.BigEndian.Uint16(buf[0:2]))
	rest := buf[2:]

	switch opcode {
	case OpcodeRRQ, OpcodeWRQ:
		filename, n, ok := readString(rest)
		if !ok {
			return malformed()
		}
		mode, _, ok := readString(rest[n:])
		if !ok {
			return malformed()
		}
		if opcode == OpcodeRRQ {
			return &ReadRequest{Filename: filename, Mode: mode}
		}
		return &WriteRequest{Filename: filename, Mode: mode}

	case OpcodeDATA:
		if len(rest) < 2 {
			return malformed()
		}
		payload := rest[2:]
		if len(payload) > BlockSize {
			payload = payload[:BlockSize]
		}
		return &Data{Block: binary.BigEndian.Uint16(rest[:2]), Payload: payload}

	case OpcodeACK:
		if len(rest) < 2 {
			return malformed()
		}
		return &Ack{Block: binary.BigEndian.Uint16(rest[:2])}

	case OpcodeERROR:
		if len(rest) < 2 {
			return malformed()
		}
		code := binary.BigEndian.Uint16(rest[:2])
		// A missing terminator is tolerated; the message is then empty.
		msg, _, ok := readString(rest[2:])
		if !ok {
			msg = ""
		}
		return &ErrorPacket{Code: code, Message: msg}

	default:
		return localError(ErrIllegalOperation)
	}
}

// Encode serializes a command for transmission. Only the server-emitted
// subset encodes; read and write requests return nil.
func Encode(cmd Command) []byte {
	switch c := cmd.(type) {
	case *Data:
		if c.wire != nil {
			return c.wire
		}
		buf := make([]byte, headerSize+len(c.Payload))
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpcodeDATA))
		binary.BigEndian.PutUint16(buf[2:4], c.Block)
		copy(buf[headerSize:], c.Payload)
		return buf
	case *Ack:
		buf := make([]byte, headerSize)
		binary.BigEndian.PutUint16(buf[0:2], uint16(OpcodeACK))
		binary.BigEndian.PutUint16(buf[2:4], c.Block)
		return buf
	case *ErrorPacket:
		buf := make([]byte, 0, headerSize+len(c.Message)+1)
		buf = binary.BigEndian.AppendUint16(buf, uint16(OpcodeERROR))
		buf = binary.BigEndian.AppendUint16(buf, c.Code)
		buf = append(buf, c.Message...)
		buf = append(buf, 0)
		return buf
	default:
		return nil
	}
}

// readString consumes a NUL-terminated string. The terminator must be
// present and the bytes before it must be valid UTF-8.
func readString(b []byte) (string, int, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 || !utf8.Valid(b[:i]) {
		return "", 0, false
	}
	return string(b[:i]), i + 1, true
}

func malformed() *ErrorPacket {
	return localError(ErrMalformedPacket)
}

func localError(kind ErrorKind) *ErrorPacket {
	pkt := NewError(kind, "").Packet()
	pkt.local = true
	return pkt
}
