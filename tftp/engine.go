package tftp

import "github.com/sirupsen/logrus"

var log = logrus.StandardLogger()

// SetLogger redirects the engine's logging. The default is the logrus
// standard logger.
func SetLogger(l *logrus.Logger) { log = l }

// Recv feeds one datagram payload into the engine. prev is the context the
// host holds for this peer, or nil when none exists. The returned context is
// what the host should keep: nil means the packet was dropped, the transfer
// completed, or the peer aborted it.
func Recv(buf []byte, prev *OpContext) *OpContext {
	cmd := Parse(buf)

	if pkt, ok := cmd.(*ErrorPacket); ok && pkt.local {
		// Undecodable input. With no session it is dropped silently;
		// on a live session the synthesized error goes back to the
		// peer and ends the transfer.
		if prev == nil {
			return nil
		}
		prev.pending = pkt
		prev.done = true
		return prev
	}

	if prev == nil {
		if pkt, ok := cmd.(*ErrorPacket); ok {
			reported := errorFromCode(pkt.Code, pkt.Message)
			log.WithFields(logrus.Fields{
				"code":   pkt.Code,
				"reason": reported.Message(),
			}).Warn("error from peer with no transfer in progress")
			return nil
		}
		// openSession ignores orphan ACK and DATA.
		return openSession(cmd)
	}
	return prev.update(cmd)
}

// ReplyFor produces the next outbound command for the session, or nil when
// nothing should be sent. All file access happens inside this call.
func ReplyFor(ctx *OpContext) Command {
	if ctx.pending != nil {
		return ctx.pending
	}

	switch c := ctx.Current.(type) {
	case *ReadRequest:
		return ctx.noteProduced(produceData(ctx.Filename, 1))

	case *Ack:
		return ctx.noteProduced(produceData(ctx.Filename, c.Block+1))

	case *WriteRequest:
		return &Ack{Block: 0}

	case *Data:
		reply := persistData(ctx.Filename, c.Block, c.Payload)
		switch reply.(type) {
		case *Ack:
			ctx.lastBlockWritten = c.Block
			if len(c.Payload) < BlockSize {
				// Short block: the upload is complete once this
				// ack goes out.
				ctx.done = true
				log.WithFields(logrus.Fields{
					"file":   ctx.Filename,
					"blocks": ctx.lastBlockWritten,
				}).Info("upload complete")
			}
		case *ErrorPacket:
			ctx.done = true
		}
		return reply

	default:
		return nil
	}
}

// noteProduced tracks download progress for a block the file reader just
// produced. A wire error ends the session after it is sent.
func (ctx *OpContext) noteProduced(reply Command) Command {
	switch r := reply.(type) {
	case *Data:
		ctx.lastBlockSent = r.Block
		if len(r.Payload) < BlockSize {
			ctx.finalSent = true
			ctx.finalBlock = r.Block
		}
	case *ErrorPacket:
		ctx.done = true
	}
	return reply
}
