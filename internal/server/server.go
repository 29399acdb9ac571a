// Package server pumps datagrams from a single UDP socket into the protocol
// engine, holding one engine context per peer address. The loop is
// single-threaded; the engine does a bounded amount of work per datagram, so
// one goroutine keeps up with the stop-and-wait cadence of the protocol.
package server

import (
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/go-tftp/tftpd/internal/metrics"
	"github.com/go-tftp/tftpd/tftp"
)

const (
	// recvBufSize is comfortably larger than the biggest legal datagram
	// (516 bytes); oversized junk is truncated rather than split.
	recvBufSize = 2048

	// maxSessions bounds the peer table. TFTP has no in-band close for
	// abandoned sessions, so the oldest entry is evicted at capacity.
	maxSessions = 64

	recvRetryPause = 50 * time.Millisecond
	recvRetryMax   = 3
)

// Options configures a Server.
type Options struct {
	// ReadOnly rejects all write requests with an access violation.
	ReadOnly bool

	// Overwrite permits a write request to replace an existing file.
	// When false the request is rejected before the first data block.
	Overwrite bool

	Logger *logrus.Logger
}

// Server owns the listening socket and the per-peer session table.
type Server struct {
	conn      net.PacketConn
	readOnly  bool
	overwrite bool
	log       *logrus.Logger

	sessions map[string]*session
}

// session pairs an engine context with the host-side bookkeeping the engine
// deliberately does not carry: a log id, the request type, and the birth
// time used for eviction. The peer key is the map key, not a field.
type session struct {
	ctx  *tftp.OpContext
	id   string
	op   string
	born time.Time
}

// New wraps an already-bound packet connection. Binding is left to the
// caller so privileges can be dropped between bind and serve.
func New(conn net.PacketConn, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		conn:      conn,
		readOnly:  opts.ReadOnly,
		overwrite: opts.Overwrite,
		log:       logger,
		sessions:  make(map[string]*session),
	}
}

// Serve runs the receive loop until the socket fails permanently or is
// closed.
func (s *Server) Serve() error {
	buf := make([]byte, recvBufSize)
	for {
		n, addr, err := s.readFrom(buf)
		if err != nil {
			return pkgerrors.Wrap(err, "read from socket")
		}
		s.handle(buf[:n], addr)
	}
}

// readFrom retries transient socket errors a bounded number of times before
// giving up on the loop.
func (s *Server) readFrom(buf []byte) (int, net.Addr, error) {
	var (
		n    int
		addr net.Addr
	)
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(recvRetryPause), recvRetryMax)
	err := backoff.Retry(func() error {
		var err error
		n, addr, err = s.conn.ReadFrom(buf)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		s.log.WithError(err).Warn("transient receive error, retrying")
		return err
	}, policy)
	return n, addr, err
}

// transient mirrors the retry set of the receive loop: timeouts, resets,
// interrupts and would-block (EAGAIN); everything else tears the loop down.
func transient(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN)
}

func (s *Server) handle(pkt []byte, addr net.Addr) {
	key := addr.String()
	sess := s.sessions[key]

	var prev *tftp.OpContext
	if sess != nil {
		prev = sess.ctx
	}

	next := tftp.Recv(pkt, prev)
	if next == nil {
		switch {
		case sess == nil:
			metrics.DroppedDatagrams.Inc()
			s.log.WithField("peer", key).Debug("dropped datagram with no session")
		case sess.ctx.Done():
			s.finish(key, sess)
		default:
			// Peer abort or inconsistent packet; the engine logged it.
			delete(s.sessions, key)
		}
		return
	}

	if next != prev {
		sess = s.adopt(key, next)
	}

	if reject := s.police(sess); reject != nil {
		s.send(reject.Packet(), addr, sess)
		delete(s.sessions, key)
		return
	}

	reply := tftp.ReplyFor(next)
	if reply != nil {
		s.send(reply, addr, sess)
	}

	if next.Done() {
		if _, failed := reply.(*tftp.ErrorPacket); failed {
			delete(s.sessions, key)
		} else {
			s.finish(key, sess)
		}
	}
}

// adopt registers a freshly born (or restarted) session for the peer,
// evicting the oldest entry when the table is full.
func (s *Server) adopt(key string, ctx *tftp.OpContext) *session {
	if _, ok := s.sessions[key]; !ok && len(s.sessions) >= maxSessions {
		var (
			oldestKey string
			oldest    time.Time
		)
		for k, v := range s.sessions {
			if oldestKey == "" || v.born.Before(oldest) {
				oldestKey, oldest = k, v.born
			}
		}
		delete(s.sessions, oldestKey)
		s.log.WithField("peer", oldestKey).Debug("evicted stale session")
	}

	sess := &session{
		ctx:  ctx,
		id:   uuid.NewString(),
		op:   ctx.Current.Opcode().String(),
		born: time.Now(),
	}
	s.sessions[key] = sess

	metrics.TransfersStarted.WithLabelValues(sess.op).Inc()
	s.log.WithFields(logrus.Fields{
		"peer":    key,
		"session": sess.id,
		"op":      sess.op,
		"file":    ctx.Filename,
		"mode":    ctx.Mode,
	}).Info("transfer started")
	return sess
}

// police applies host policy to a session that has not produced its first
// reply yet: read-only mode and overwrite protection.
func (s *Server) police(sess *session) *tftp.TransferError {
	if _, ok := sess.ctx.Current.(*tftp.WriteRequest); !ok {
		return nil
	}
	if s.readOnly {
		return tftp.NewError(tftp.ErrAccessViolation, "server is read-only")
	}
	if !s.overwrite {
		if _, err := os.Stat(sess.ctx.Filename); err == nil {
			return tftp.NewError(tftp.ErrFileAlreadyExists, "")
		}
	}
	return nil
}

func (s *Server) send(reply tftp.Command, addr net.Addr, sess *session) {
	wire := tftp.Encode(reply)
	if wire == nil {
		s.log.WithField("session", sess.id).Error("reply does not encode")
		return
	}
	if _, err := s.conn.WriteTo(wire, addr); err != nil {
		s.log.WithFields(logrus.Fields{
			"peer":    addr.String(),
			"session": sess.id,
		}).WithError(err).Error("failed to send reply")
		return
	}

	switch r := reply.(type) {
	case *tftp.Data:
		metrics.BytesMoved.WithLabelValues("out").Add(float64(len(r.Payload)))
	case *tftp.Ack:
		if d, ok := sess.ctx.Current.(*tftp.Data); ok {
			metrics.BytesMoved.WithLabelValues("in").Add(float64(len(d.Payload)))
		}
	case *tftp.ErrorPacket:
		metrics.WireErrors.WithLabelValues(strconv.Itoa(int(r.Code))).Inc()
	}
}

// finish retires a session that ran to completion.
func (s *Server) finish(key string, sess *session) {
	delete(s.sessions, key)
	metrics.TransfersFinished.WithLabelValues(sess.op).Inc()
	s.log.WithFields(logrus.Fields{
		"peer":     key,
		"session":  sess.id,
		"file":     sess.ctx.Filename,
		"duration": time.Since(sess.born).Round(time.Millisecond).String(),
	}).Info("transfer finished")
}
