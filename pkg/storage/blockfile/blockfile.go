// Package blockfile provides random access to fixed-size blocks of a file.
package blockfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KevoDB/heapdb/pkg/common/errs"
)

const (
	// DefaultBlockSize is the block size used when none is configured
	DefaultBlockSize = 4096
)

// ErrClosed is returned when operations are performed on a closed file
var ErrClosed = errors.New("block file is closed")

// File is a file addressed in whole blocks. It owns the open handle and an
// advisory lock held for the lifetime of the handle.
type File struct {
	path           string
	file           *os.File
	blockSize      int
	lastBlockIndex int64
}

// Create creates a new, empty block file. It fails if path already exists.
func Create(path string, blockSize int) (*File, error) {
	if blockSize <= 0 {
		return nil, errs.Validation("blockfile.create", "block size must be positive, got %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "blockfile.create", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errs.Wrap(errs.ErrStorage, "blockfile.create", err)
	}

	return &File{
		path:           path,
		file:           f,
		blockSize:      blockSize,
		lastBlockIndex: -1,
	}, nil
}

// Open opens an existing block file for reading and writing. The file
// length must be an exact multiple of blockSize.
func Open(path string, blockSize int) (*File, error) {
	if blockSize <= 0 {
		return nil, errs.Validation("blockfile.open", "block size must be positive, got %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, "blockfile.open", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ErrStorage, "blockfile.open", err)
	}

	size := stat.Size()
	if size%int64(blockSize) != 0 {
		f.Close()
		return nil, errs.Storage("blockfile.open",
			"%s is not a block file: size %d is not a multiple of %d", path, size, blockSize)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.ErrStorage, "blockfile.open", err)
	}

	return &File{
		path:           path,
		file:           f,
		blockSize:      blockSize,
		lastBlockIndex: size/int64(blockSize) - 1,
	}, nil
}

// Read reads block idx into buf, which must be exactly one block long.
// Reading past the end of the file is not an error: the missing bytes are
// zeroed and the number of bytes actually read is returned.
func (f *File) Read(idx int, buf []byte) (int, error) {
	if err := f.checkAccess(idx, buf); err != nil {
		return 0, err
	}

	n, err := f.file.ReadAt(buf, f.offset(idx))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errs.Wrap(errs.ErrStorage, "blockfile.read", fmt.Errorf("block %d: %w", idx, err))
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return n, nil
}

// Write writes buf, which must be exactly one block long, to block idx,
// extending the file if needed.
func (f *File) Write(idx int, buf []byte) error {
	if err := f.checkAccess(idx, buf); err != nil {
		return err
	}

	if _, err := f.file.WriteAt(buf, f.offset(idx)); err != nil {
		return errs.Wrap(errs.ErrStorage, "blockfile.write", fmt.Errorf("block %d: %w", idx, err))
	}

	if int64(idx) > f.lastBlockIndex {
		f.lastBlockIndex = int64(idx)
	}
	return nil
}

// Sync commits the file contents to stable storage
func (f *File) Sync() error {
	if f.file == nil {
		return ErrClosed
	}
	return errs.Wrap(errs.ErrStorage, "blockfile.sync", f.file.Sync())
}

// Size returns the file length in bytes
func (f *File) Size() (int64, error) {
	if f.file == nil {
		return 0, ErrClosed
	}
	stat, err := f.file.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.ErrStorage, "blockfile.size", err)
	}
	return stat.Size(), nil
}

// BlockSize returns the size of each block in bytes
func (f *File) BlockSize() int {
	return f.blockSize
}

// LastBlockIndex returns the highest block index written, or -1 if none
func (f *File) LastBlockIndex() int64 {
	return f.lastBlockIndex
}

// Path returns the path the file was opened with
func (f *File) Path() string {
	return f.path
}

// Close releases the lock and closes the file
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	unlockFile(f.file)
	err := f.file.Close()
	f.file = nil
	return errs.Wrap(errs.ErrStorage, "blockfile.close", err)
}

func (f *File) offset(idx int) int64 {
	return int64(idx) * int64(f.blockSize)
}

func (f *File) checkAccess(idx int, buf []byte) error {
	if f.file == nil {
		return ErrClosed
	}
	if idx < 0 {
		return errs.Bounds("blockfile", "negative block index %d", idx)
	}
	if len(buf) != f.blockSize {
		return errs.Bounds("blockfile", "buffer of %d bytes for block size %d", len(buf), f.blockSize)
	}
	return nil
}
