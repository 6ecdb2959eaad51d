package heap

import (
	"fmt"
	"strings"

	"github.com/KevoDB/heapdb/pkg/record"
	"github.com/KevoDB/heapdb/pkg/storage/bitmap"
)

// recordsPerLine bounds how many records Diagnostic prints on one line
const recordsPerLine = 16

// Diagnostic renders the block bitmap and, for each valid data block, its
// record bitmap and live records
func (s *Store) Diagnostic() (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Block bitmap:  %s\n", s.blockMap)

	for b := s.nextDataBlock(firstDataBlock); b != bitmap.NoZero; b = s.nextDataBlock(b + 1) {
		if err := s.loadBlock(b); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "Block %d\n", b)
		fmt.Fprintf(&sb, "Record bitmap: %s\n", s.recMap)

		onLine := 0
		for slot := s.recMap.NextSet(0); slot != bitmap.NoZero; slot = s.recMap.NextSet(slot + 1) {
			if err := s.scratch.DecodeFrom(s.slotBytes(slot)); err != nil {
				return "", err
			}
			if onLine > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s.scratch.String())
			onLine++
			if onLine == recordsPerLine {
				sb.WriteByte('\n')
				onLine = 0
			}
		}
		if onLine > 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// String lists the live records one per line
func (s *Store) String() string {
	var sb strings.Builder
	err := s.Scan(func(rec *record.Record) bool {
		sb.WriteString(rec.String())
		sb.WriteByte('\n')
		return true
	})
	if err != nil {
		fmt.Fprintf(&sb, "error: %v\n", err)
	}
	return sb.String()
}
