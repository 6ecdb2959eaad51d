// Package snapshot writes and restores compressed copies of a block file.
//
// A snapshot is laid out as
//
//	[header][compressed block stream][footer: xxhash64 of the raw blocks]
//
// Integers are little-endian. Restore verifies the checksum before it
// reports success.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/KevoDB/heapdb/pkg/common/errs"
	"github.com/KevoDB/heapdb/pkg/storage/blockfile"
	"github.com/cespare/xxhash/v2"
)

// BlockSource is the read side of a block file
type BlockSource interface {
	Read(idx int, buf []byte) (int, error)
	BlockSize() int
	LastBlockIndex() int64
}

// Write copies every block of src to w through codec and returns the number
// of bytes written
func Write(w io.Writer, src BlockSource, codec Codec) (int64, error) {
	blockSize := src.BlockSize()
	numBlocks := src.LastBlockIndex() + 1

	// the stream is staged so the header can carry its length
	var stream bytes.Buffer
	cw, err := newCompressWriter(&stream, codec)
	if err != nil {
		return 0, errs.Wrap(errs.ErrValidation, "snapshot.write", err)
	}

	digest := xxhash.New()
	buf := make([]byte, blockSize)
	for i := int64(0); i < numBlocks; i++ {
		if _, err := src.Read(int(i), buf); err != nil {
			cw.Close()
			return 0, err
		}
		digest.Write(buf)
		if _, err := cw.Write(buf); err != nil {
			cw.Close()
			return 0, errs.Wrap(errs.ErrStorage, "snapshot.write", err)
		}
	}
	if err := cw.Close(); err != nil {
		return 0, errs.Wrap(errs.ErrStorage, "snapshot.write", err)
	}

	h := Header{
		Magic:     Magic,
		Version:   Version,
		Codec:     codec,
		BlockSize: uint32(blockSize),
		NumBlocks: uint32(numBlocks),
		StreamLen: uint64(stream.Len()),
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(footer, digest.Sum64())

	var total int64
	for _, part := range [][]byte{h.Encode(), stream.Bytes(), footer} {
		n, err := w.Write(part)
		total += int64(n)
		if err != nil {
			return total, errs.Wrap(errs.ErrStorage, "snapshot.write", err)
		}
	}
	return total, nil
}

// Restore creates a new block file at path from the snapshot in r. The
// file is removed again if the snapshot is corrupt.
func Restore(r io.Reader, path string) (Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, err
	}

	file, err := blockfile.Create(path, int(h.BlockSize))
	if err != nil {
		return Header{}, err
	}

	if err := restoreBlocks(r, h, file); err != nil {
		file.Close()
		os.Remove(path)
		return Header{}, err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return Header{}, err
	}
	return h, file.Close()
}

func restoreBlocks(r io.Reader, h Header, file *blockfile.File) error {
	stream := io.LimitReader(r, int64(h.StreamLen))
	cr, err := newCompressReader(stream, h.Codec)
	if err != nil {
		return errs.Wrap(errs.ErrStorage, "snapshot.restore", err)
	}

	digest := xxhash.New()
	buf := make([]byte, h.BlockSize)
	for i := 0; i < int(h.NumBlocks); i++ {
		if _, err := io.ReadFull(cr, buf); err != nil {
			cr.Close()
			return errs.Wrap(errs.ErrStorage, "snapshot.restore", fmt.Errorf("block %d: %w", i, err))
		}
		digest.Write(buf)
		if err := file.Write(i, buf); err != nil {
			cr.Close()
			return err
		}
	}
	cr.Close()

	// skip whatever the decoder left unread before the footer
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return errs.Wrap(errs.ErrStorage, "snapshot.restore", err)
	}

	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(r, footer); err != nil {
		return errs.Wrap(errs.ErrStorage, "snapshot.restore", fmt.Errorf("footer: %w", err))
	}
	if want, got := binary.LittleEndian.Uint64(footer), digest.Sum64(); want != got {
		return errs.Storage("snapshot.restore", "checksum mismatch: snapshot has %x, calculated %x", want, got)
	}
	return nil
}
