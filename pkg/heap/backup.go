package heap

import (
	"context"
	"io"
	"time"

	"github.com/KevoDB/heapdb/pkg/snapshot"
	"github.com/KevoDB/heapdb/pkg/stats"
)

// Backup writes a compressed snapshot of the store file to w and returns
// the number of bytes written. Indexes are not part of the snapshot.
func (s *Store) Backup(w io.Writer, codec snapshot.Codec) (int64, error) {
	start := time.Now()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.file.Sync(); err != nil {
		return 0, err
	}

	n, err := snapshot.Write(w, s.file, codec)
	if err != nil {
		s.stats.TrackError("backup")
		s.logger.Error("backup failed after %d bytes: %v", n, err)
		return n, err
	}

	s.trackTime(stats.OpBackup, start)
	s.metrics.RecordBackup(context.Background(), time.Since(start), codec.String(), n)
	s.logger.Info("wrote %s backup of %d bytes", codec, n)
	return n, nil
}

// Restore recreates a store file at path from a snapshot in r and opens it
func Restore(r io.Reader, path string, opts ...Option) (*Store, error) {
	h, err := snapshot.Restore(r, path)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithBlockSize(int(h.BlockSize)))
	return Open(path, opts...)
}
