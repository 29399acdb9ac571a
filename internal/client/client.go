// Package client is a minimal octet-mode TFTP client. It exists for the
// tftp-get command and the end-to-end tests; it is not a general client.
package client

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/go-tftp/tftpd/tftp"
)

const defaultTimeout = 3 * time.Second

// Client performs single-file transfers against a server that answers from
// its listening port.
type Client struct {
	Server  string
	Timeout time.Duration
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// Fetch downloads filename from the server into w and returns the number of
// payload bytes received.
func (c *Client) Fetch(filename string, w io.Writer) (int64, error) {
	conn, err := net.Dial("udp", c.Server)
	if err != nil {
		return 0, errors.Wrap(err, "dial server")
	}
	defer conn.Close()

	if _, err := conn.Write(appendRequest(nil, tftp.OpcodeRRQ, filename)); err != nil {
		return 0, errors.Wrap(err, "send read request")
	}

	var (
		total    int64
		expected uint16 = 1
	)
	buf := make([]byte, 2048)
	for {
		conn.SetReadDeadline(time.Now().Add(c.timeout()))
		n, err := conn.Read(buf)
		if err != nil {
			return total, errors.Wrap(err, "read reply")
		}

		switch pkt := tftp.Parse(buf[:n]).(type) {
		case *tftp.Data:
			if pkt.Block != expected {
				// Duplicate of an already-written block; ack it
				// again and keep waiting.
				if pkt.Block < expected {
					conn.Write(tftp.Encode(&tftp.Ack{Block: pkt.Block}))
				}
				continue
			}
			if _, err := w.Write(pkt.Payload); err != nil {
				return total, errors.Wrap(err, "write output")
			}
			total += int64(len(pkt.Payload))
			if _, err := conn.Write(tftp.Encode(&tftp.Ack{Block: pkt.Block})); err != nil {
				return total, errors.Wrap(err, "send ack")
			}
			if len(pkt.Payload) < tftp.BlockSize {
				return total, nil
			}
			expected++
		case *tftp.ErrorPacket:
			return total, pkt
		default:
			return total, errors.Errorf("unexpected %s packet", pkt.Opcode())
		}
	}
}

// Store uploads r as filename on the server and returns the number of
// payload bytes sent.
func (c *Client) Store(filename string, r io.Reader) (int64, error) {
	conn, err := net.Dial("udp", c.Server)
	if err != nil {
		return 0, errors.Wrap(err, "dial server")
	}
	defer conn.Close()

	if _, err := conn.Write(appendRequest(nil, tftp.OpcodeWRQ, filename)); err != nil {
		return 0, errors.Wrap(err, "send write request")
	}
	if err := c.awaitAck(conn, 0); err != nil {
		return 0, err
	}

	var (
		total int64
		block uint16
	)
	payload := make([]byte, tftp.BlockSize)
	for {
		block++
		n, err := io.ReadFull(r, payload)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return total, errors.Wrap(err, "read input")
		}

		if _, err := conn.Write(tftp.Encode(&tftp.Data{Block: block, Payload: payload[:n]})); err != nil {
			return total, errors.Wrap(err, "send data")
		}
		if err := c.awaitAck(conn, block); err != nil {
			return total, err
		}
		total += int64(n)

		// A short block, including an empty one, ends the transfer.
		if n < tftp.BlockSize {
			return total, nil
		}
	}
}

// awaitAck blocks until the server acknowledges the given block.
func (c *Client) awaitAck(conn net.Conn, block uint16) error {
	buf := make([]byte, 2048)
	for {
		conn.SetReadDeadline(time.Now().Add(c.timeout()))
		n, err := conn.Read(buf)
		if err != nil {
			return errors.Wrapf(err, "await ack %d", block)
		}
		switch pkt := tftp.Parse(buf[:n]).(type) {
		case *tftp.Ack:
			if pkt.Block == block {
				return nil
			}
		case *tftp.ErrorPacket:
			return pkt
		default:
			return errors.Errorf("unexpected %s packet", pkt.Opcode())
		}
	}
}

// appendRequest marshals an RRQ or WRQ. The engine-side codec only encodes
// the server-emitted subset, so requests are built here.
func appendRequest(b []byte, op tftp.Opcode, filename string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(op))
	b = append(b, filename...)
	b = append(b, 0)
	b = append(b, "octet"...)
	b = append(b, 0)
	return b
}
