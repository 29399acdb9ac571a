package tftp

import (
	"io"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindCodes(t *testing.T) {
	codes := map[ErrorKind]uint16{
		ErrNotDefined:        0,
		ErrFileNotFound:      1,
		ErrAccessViolation:   2,
		ErrDiskFull:          3,
		ErrIllegalOperation:  4,
		ErrUnknownTransferID: 5,
		ErrFileAlreadyExists: 6,
		ErrNoSuchUser:        7,
		ErrSeekFailed:        2,
		ErrUnexpectedEOF:     2,
		ErrInternal:          2,
		ErrMalformedPacket:   4,
	}
	for kind, code := range codes {
		assert.Equal(t, code, kind.Code())
	}
}

func TestDefaultMessages(t *testing.T) {
	messages := map[ErrorKind]string{
		ErrNotDefined:        "Not defined",
		ErrFileNotFound:      "File not found",
		ErrAccessViolation:   "Access violation",
		ErrDiskFull:          "Disk full or allocation exceeded",
		ErrIllegalOperation:  "Illegal TFTP operation",
		ErrUnknownTransferID: "Unknown transfer ID",
		ErrFileAlreadyExists: "File already exists",
		ErrNoSuchUser:        "No such user",
		ErrMalformedPacket:   "Illegal TFTP operation - malformed packet",
	}
	for kind, want := range messages {
		assert.Equal(t, want, NewError(kind, "").Message())
	}
	assert.Equal(t, "chosen text", NewError(ErrNotDefined, "chosen text").Message())
}

func TestErrorRendersAsPacket(t *testing.T) {
	pkt := NewError(ErrDiskFull, "").Packet()
	assert.Equal(t, uint16(3), pkt.Code)
	assert.Equal(t, "Disk full or allocation exceeded", pkt.Message)
}

func TestReadPathTranslation(t *testing.T) {
	assert.Equal(t, ErrFileNotFound, readPathError(fs.ErrNotExist).Kind)
	assert.Equal(t, ErrFileNotFound, readPathError(&fs.PathError{Op: "open", Err: fs.ErrNotExist}).Kind)
	assert.Equal(t, ErrAccessViolation, readPathError(fs.ErrPermission).Kind)
	assert.Equal(t, ErrUnexpectedEOF, readPathError(io.ErrUnexpectedEOF).Kind)
	assert.Equal(t, ErrFileAlreadyExists, readPathError(fs.ErrExist).Kind)
	assert.Equal(t, ErrInternal, readPathError(io.ErrClosedPipe).Kind)

	// UnexpectedEof still lands on wire code 2 on the read path.
	assert.Equal(t, uint16(2), readPathError(io.ErrUnexpectedEOF).Kind.Code())
}

func TestWritePathTranslation(t *testing.T) {
	assert.Equal(t, ErrDiskFull, writePathError(io.ErrShortWrite).Kind)
	assert.Equal(t, ErrDiskFull, writePathError(io.ErrUnexpectedEOF).Kind)
	assert.Equal(t, ErrDiskFull, writePathError(syscall.ENOSPC).Kind)
	assert.Equal(t, ErrDiskFull, writePathError(&os.PathError{Op: "write", Err: syscall.ENOSPC}).Kind)
	assert.Equal(t, ErrAccessViolation, writePathError(fs.ErrPermission).Kind)
	assert.Equal(t, ErrFileNotFound, writePathError(fs.ErrNotExist).Kind)
	assert.Equal(t, ErrInternal, writePathError(io.ErrClosedPipe).Kind)
}

func TestErrorFromCode(t *testing.T) {
	reported := errorFromCode(1, "")
	assert.Equal(t, ErrFileNotFound, reported.Kind)
	assert.Equal(t, "File not found", reported.Message())

	reported = errorFromCode(1, "no such layout")
	assert.Equal(t, "no such layout", reported.Message())

	reported = errorFromCode(99, "")
	require.Equal(t, ErrNotDefined, reported.Kind)
	assert.Equal(t, "Unknown error code 99", reported.Message())
}
