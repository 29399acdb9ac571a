package tftp

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rrq(filename string) []byte {
	return requestWire(OpcodeRRQ, filename)
}

func wrq(filename string) []byte {
	return requestWire(OpcodeWRQ, filename)
}

func requestWire(op Opcode, filename string) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(op))
	b = append(b, filename...)
	b = append(b, 0)
	b = append(b, "octet"...)
	b = append(b, 0)
	return b
}

func ackWire(block uint16) []byte {
	return Encode(&Ack{Block: block})
}

func dataWire(block uint16, payload []byte) []byte {
	return Encode(&Data{Block: block, Payload: payload})
}

// One full download: a 1025-byte file crosses in blocks of 512, 512 and 1,
// and the ack for the short block retires the session.
func TestDownloadRoundTrip(t *testing.T) {
	content := bytes.Repeat([]byte{'d'}, 1025)
	name := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(name, content, 0o644))

	ctx := Recv(rrq(name), nil)
	require.NotNil(t, ctx)

	var received []byte
	expect := []struct {
		block uint16
		size  int
	}{
		{1, BlockSize},
		{2, BlockSize},
		{3, 1},
	}
	for _, step := range expect {
		reply := ReplyFor(ctx)
		data, ok := reply.(*Data)
		require.True(t, ok, "block %d: got %T", step.block, reply)
		assert.Equal(t, step.block, data.Block)
		assert.Len(t, data.Payload, step.size)
		received = append(received, data.Payload...)

		ctx = Recv(ackWire(step.block), ctx)
	}

	assert.Nil(t, ctx, "session must be destroyed by the final ack")
	assert.Equal(t, content, received)
}

// A file of exactly two blocks needs a trailing empty DATA.
func TestDownloadExactMultipleEndsWithEmptyBlock(t *testing.T) {
	name := filepath.Join(t.TempDir(), "aligned")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{'a'}, 2*BlockSize), 0o644))

	ctx := Recv(rrq(name), nil)
	require.NotNil(t, ctx)

	blocks := 0
	for ctx != nil {
		reply := ReplyFor(ctx)
		data, ok := reply.(*Data)
		require.True(t, ok)
		blocks++
		if blocks > 3 {
			t.Fatal("download did not terminate")
		}
		ctx = Recv(ackWire(data.Block), ctx)
	}
	assert.Equal(t, 3, blocks, "two full blocks plus the empty trailer")
}

func TestDownloadMissingFile(t *testing.T) {
	ctx := Recv(rrq(filepath.Join(t.TempDir(), "missing")), nil)
	require.NotNil(t, ctx)

	pkt, ok := ReplyFor(ctx).(*ErrorPacket)
	require.True(t, ok)
	assert.Equal(t, uint16(1), pkt.Code)
	assert.True(t, ctx.Done(), "a wire error ends the session")
}

// A duplicated ack makes the engine re-produce the same block.
func TestDownloadDuplicateAck(t *testing.T) {
	name := filepath.Join(t.TempDir(), "dup")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{'x'}, 700), 0o644))

	ctx := Recv(rrq(name), nil)
	first, ok := ReplyFor(ctx).(*Data)
	require.True(t, ok)

	ctx = Recv(ackWire(0), ctx) // lost DATA{1}: the peer re-acks block 0
	require.NotNil(t, ctx)
	again, ok := ReplyFor(ctx).(*Data)
	require.True(t, ok)
	assert.Equal(t, first.Block, again.Block)
	assert.Equal(t, first.Payload, again.Payload)
}

// One full upload: 512 + 300 bytes arrive, acks 0, 1, 2 go out, and the
// file matches the concatenated payloads.
func TestUploadRoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "incoming")
	first := bytes.Repeat([]byte{'u'}, BlockSize)
	second := bytes.Repeat([]byte{'v'}, 300)

	ctx := Recv(wrq(name), nil)
	require.NotNil(t, ctx)
	ack, ok := ReplyFor(ctx).(*Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(0), ack.Block)

	ctx = Recv(dataWire(1, first), ctx)
	require.NotNil(t, ctx)
	ack, ok = ReplyFor(ctx).(*Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(1), ack.Block)
	assert.False(t, ctx.Done())

	ctx = Recv(dataWire(2, second), ctx)
	require.NotNil(t, ctx)
	ack, ok = ReplyFor(ctx).(*Ack)
	require.True(t, ok)
	assert.Equal(t, uint16(2), ack.Block)
	assert.True(t, ctx.Done(), "short block completes the upload")

	got, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, append(first, second...), got)
}

// Orphan acks, data and errors with no session produce nothing.
func TestOrphanPacketsAreDropped(t *testing.T) {
	dir := t.TempDir()
	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	assert.Nil(t, Recv([]byte{0, 4, 0, 1}, nil))
	assert.Nil(t, Recv(dataWire(1, []byte("stray")), nil))
	assert.Nil(t, Recv(Encode(&ErrorPacket{Code: 1, Message: "File not found"}), nil))

	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no filesystem side effects")
}

// A client abort mid-download destroys the session and produces no reply.
func TestClientInitiatedAbort(t *testing.T) {
	name := filepath.Join(t.TempDir(), "aborted")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{'q'}, 2000), 0o644))

	ctx := Recv(rrq(name), nil)
	_, ok := ReplyFor(ctx).(*Data)
	require.True(t, ok)

	ctx = Recv(Encode(&ErrorPacket{Code: 1, Message: "File not found"}), ctx)
	assert.Nil(t, ctx)
}

// A malformed packet on a live session is answered with the synthesized
// ERROR, which also ends the transfer.
func TestMalformedPacketOnLiveSession(t *testing.T) {
	name := filepath.Join(t.TempDir(), "live")
	require.NoError(t, os.WriteFile(name, []byte("abc"), 0o644))

	ctx := Recv(rrq(name), nil)
	require.NotNil(t, ctx)

	ctx = Recv([]byte{0, 9, 9}, ctx)
	require.NotNil(t, ctx)

	pkt, ok := ReplyFor(ctx).(*ErrorPacket)
	require.True(t, ok)
	assert.Equal(t, uint16(4), pkt.Code)
	assert.True(t, ctx.Done())
}

// A malformed packet from a peer with no session produces nothing at all.
func TestMalformedPacketWithoutSession(t *testing.T) {
	assert.Nil(t, Recv([]byte{0, 9, 9}, nil))
	assert.Nil(t, Recv([]byte{1}, nil))
}

// A new request from the same peer abandons the old transfer.
func TestRequestRestartsMidTransfer(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, os.WriteFile(first, bytes.Repeat([]byte{'1'}, 600), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("22"), 0o644))

	ctx := Recv(rrq(first), nil)
	_, ok := ReplyFor(ctx).(*Data)
	require.True(t, ok)

	ctx = Recv(rrq(second), ctx)
	require.NotNil(t, ctx)
	assert.Equal(t, second, ctx.Filename)

	data, ok := ReplyFor(ctx).(*Data)
	require.True(t, ok)
	assert.Equal(t, uint16(1), data.Block)
	assert.Equal(t, []byte("22"), data.Payload)
}

// Block count over a download equals floor(L/512)+1 for several sizes.
func TestDownloadBlockCountInvariant(t *testing.T) {
	for _, size := range []int{0, 1, 511, 512, 513, 1024, 1025, 2048} {
		name := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{'#'}, size), 0o644))

		ctx := Recv(rrq(name), nil)
		require.NotNil(t, ctx)

		blocks := 0
		for ctx != nil {
			data, ok := ReplyFor(ctx).(*Data)
			require.True(t, ok)
			blocks++
			require.LessOrEqual(t, blocks, size/BlockSize+1)
			if blocks <= size/BlockSize {
				require.Len(t, data.Payload, BlockSize)
			} else {
				require.Less(t, len(data.Payload), BlockSize)
			}
			ctx = Recv(ackWire(data.Block), ctx)
		}
		assert.Equal(t, size/BlockSize+1, blocks, "size %d", size)
	}
}
