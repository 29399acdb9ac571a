package tftp

import "github.com/sirupsen/logrus"

// OpContext is the session record for one in-progress transfer. It is born
// from a read or write request, keeps the originating filename and mode for
// its whole lifetime, and tracks which block the transfer has reached.
type OpContext struct {
	// Current is the most recently received command and drives the next
	// reply: the originating request at first, then each ACK or DATA.
	Current Command

	// Filename and Mode are captured from the originating request and
	// never change for the lifetime of the session.
	Filename string
	Mode     string

	lastBlockSent    uint16 // download: last DATA block produced
	lastBlockWritten uint16 // upload: last DATA block persisted
	lastAckReceived  uint16

	// finalBlock is the short DATA block that ends a download; the
	// matching ACK closes the session.
	finalBlock uint16
	finalSent  bool

	// pending is an error the codec synthesized for this peer's last
	// datagram; it is the next (and last) reply.
	pending *ErrorPacket

	done bool
}

// openSession creates a context iff cmd is a read or write request.
func openSession(cmd Command) *OpContext {
	switch c := cmd.(type) {
	case *ReadRequest:
		return &OpContext{Current: c, Filename: c.Filename, Mode: c.Mode}
	case *WriteRequest:
		return &OpContext{Current: c, Filename: c.Filename, Mode: c.Mode}
	default:
		return nil
	}
}

// Done reports whether the transfer has finished, or failed terminally, and
// the context should be discarded by the host.
func (ctx *OpContext) Done() bool { return ctx.done }

// LastAck returns the block number of the last ACK, or on an upload the last
// DATA, received from the peer.
func (ctx *OpContext) LastAck() uint16 { return ctx.lastAckReceived }

// update applies an inbound command to a live session and returns the
// context that should drive the next reply, or nil when the session ends.
func (ctx *OpContext) update(cmd Command) *OpContext {
	switch c := cmd.(type) {
	case *ReadRequest, *WriteRequest:
		// The peer restarted; the old transfer is abandoned.
		return openSession(cmd)

	case *Ack:
		if !ctx.live() {
			return nil
		}
		if ctx.finalSent && c.Block == ctx.finalBlock {
			// ACK for the final short block: download complete.
			ctx.done = true
			log.WithFields(logrus.Fields{
				"file":   ctx.Filename,
				"blocks": ctx.lastBlockSent,
			}).Info("download complete")
			return nil
		}
		ctx.Current = c
		ctx.lastAckReceived = c.Block
		return ctx

	case *Data:
		if !ctx.live() {
			return nil
		}
		ctx.Current = c
		ctx.lastAckReceived = c.Block
		return ctx

	case *ErrorPacket:
		ctx.logAborted(c)
		return nil

	default:
		return nil
	}
}

// live reports whether Current still names an operation the state machine
// can continue from.
func (ctx *OpContext) live() bool {
	switch ctx.Current.(type) {
	case *ReadRequest, *WriteRequest, *Ack, *Data:
		return true
	default:
		return false
	}
}

// logAborted records which operation a peer-sent ERROR tore down. The peer's
// code is normalized through the taxonomy for consistent wording.
func (ctx *OpContext) logAborted(pkt *ErrorPacket) {
	reported := errorFromCode(pkt.Code, pkt.Message)
	entry := log.WithFields(logrus.Fields{
		"file":   ctx.Filename,
		"code":   pkt.Code,
		"reason": reported.Message(),
	})
	switch c := ctx.Current.(type) {
	case *ReadRequest:
		entry.Warn("peer aborted read request")
	case *WriteRequest:
		entry.Warn("peer aborted write request")
	case *Data:
		entry.WithField("block", c.Block).Warn("peer aborted transfer mid-data")
	case *Ack:
		entry.WithField("block", c.Block).Warn("peer aborted transfer after ack")
	default:
		entry.Warn("peer aborted transfer")
	}
}
