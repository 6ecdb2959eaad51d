package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

const (
	// HeaderSize is the fixed size of the header in bytes
	HeaderSize = 32
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 8
	// Magic identifies a heapdb snapshot
	Magic = uint64(0x4845415044425350) // "HEAPDBSP"
	// Version is the snapshot format version
	Version = uint32(1)
)

// Header precedes the compressed block stream
type Header struct {
	Magic     uint64
	Version   uint32
	Codec     Codec
	BlockSize uint32
	NumBlocks uint32
	// StreamLen is the length of the compressed block stream
	StreamLen uint64
}

// Encode serializes the header
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Codec))
	binary.LittleEndian.PutUint32(buf[16:20], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.NumBlocks)
	binary.LittleEndian.PutUint64(buf[24:32], h.StreamLen)
	return buf
}

// DecodeHeader parses and checks a header
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errs.Storage("snapshot.header", "header too small: %d bytes, expected %d", len(data), HeaderSize)
	}

	h := Header{
		Magic:     binary.LittleEndian.Uint64(data[0:8]),
		Version:   binary.LittleEndian.Uint32(data[8:12]),
		Codec:     Codec(binary.LittleEndian.Uint32(data[12:16])),
		BlockSize: binary.LittleEndian.Uint32(data[16:20]),
		NumBlocks: binary.LittleEndian.Uint32(data[20:24]),
		StreamLen: binary.LittleEndian.Uint64(data[24:32]),
	}

	if h.Magic != Magic {
		return Header{}, errs.Storage("snapshot.header", "invalid magic: %x, expected %x", h.Magic, Magic)
	}
	if h.Version != Version {
		return Header{}, errs.Storage("snapshot.header", "unsupported version %d", h.Version)
	}
	if h.Codec > CodecSnappy {
		return Header{}, errs.Wrap(errs.ErrStorage, "snapshot.header", ErrUnknownCodec)
	}
	if h.BlockSize == 0 {
		return Header{}, errs.Storage("snapshot.header", "zero block size")
	}
	return h, nil
}

// ReadHeader reads and decodes a header from r
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, errs.Wrap(errs.ErrStorage, "snapshot.header", err)
	}
	return DecodeHeader(buf)
}
