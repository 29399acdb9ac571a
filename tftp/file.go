package tftp

import (
	"encoding/binary"
	"io"
	"os"
)

// produceData reads the numbered block of the file and returns it as a DATA
// command whose buffer already carries the packet header, so transmission
// needs no further copy. A short read, including zero bytes, is the end of
// the file and not an error.
func produceData(filename string, block uint16) Command {
	off := (int64(block) - 1) * BlockSize
	if off < 0 {
		return NewError(ErrSeekFailed, "").Packet()
	}

	f, err := os.Open(filename)
	if err != nil {
		return readPathError(err).Packet()
	}
	defer f.Close()

	buf := make([]byte, datagramSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(OpcodeDATA))
	binary.BigEndian.PutUint16(buf[2:4], block)

	n, err := f.ReadAt(buf[headerSize:], off)
	if err != nil && err != io.EOF {
		return readPathError(err).Packet()
	}

	return &Data{
		Block:   block,
		Payload: buf[headerSize : headerSize+n],
		wire:    buf[:headerSize+n],
	}
}

// persistData writes one uploaded block at its position in the file and
// acknowledges it. Block 1 creates or truncates the file; later blocks
// reopen it for writing and seek. The file is flushed and closed before the
// ack is returned, so no descriptor outlives the call.
func persistData(filename string, block uint16, payload []byte) Command {
	var (
		f   *os.File
		err error
	)
	if block == 1 {
		f, err = os.Create(filename)
	} else {
		f, err = os.OpenFile(filename, os.O_WRONLY|os.O_CREATE, 0o644)
	}
	if err != nil {
		return writePathError(err).Packet()
	}
	defer f.Close()

	if block != 1 {
		off := (int64(block) - 1) * BlockSize
		if off < 0 {
			return NewError(ErrSeekFailed, "").Packet()
		}
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return NewError(ErrSeekFailed, "").Packet()
		}
	}

	if _, err := f.Write(payload); err != nil {
		return writePathError(err).Packet()
	}
	if err := f.Sync(); err != nil {
		return NewError(ErrDiskFull, "").Packet()
	}

	return &Ack{Block: block}
}
