package pdump

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// SegmentWriter persists drained Messages to a gzip-compressed segment
// file, the offline counterpart to the live gRPC stream a control plane
// would normally attach to a ring: a capture left running unattended
// still needs somewhere for its output to land. Uses klauspost/compress's
// gzip implementation rather than the standard library's, matching the
// corpus's general preference for klauspost over stdlib compression.
type SegmentWriter struct {
	gz *gzip.Writer
}

func NewSegmentWriter(w io.Writer) *SegmentWriter {
	return &SegmentWriter{gz: gzip.NewWriter(w)}
}

// WriteMessage appends one record as a length-prefixed header+payload
// pair, mirroring the ring's own on-wire framing so a segment file can be
// replayed through the same decoder as a live ring read.
func (s *SegmentWriter) WriteMessage(msg Message) error {
	hdr := make([]byte, HeaderSize)
	msg.Header.TotalLen = uint32(HeaderSize + len(msg.Data))
	msg.Header.encode(hdr)

	if _, err := s.gz.Write(hdr); err != nil {
		return fmt.Errorf("pdump: write segment header: %w", err)
	}
	if _, err := s.gz.Write(msg.Data); err != nil {
		return fmt.Errorf("pdump: write segment payload: %w", err)
	}
	if pad := alignToU32(int(msg.Header.TotalLen)) - int(msg.Header.TotalLen); pad > 0 {
		if _, err := s.gz.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("pdump: write segment padding: %w", err)
		}
	}
	return nil
}

func (s *SegmentWriter) Close() error { return s.gz.Close() }

// Drain reads every Message produced on in until ctx is cancelled or in
// is closed, writing each to the segment.
func (s *SegmentWriter) Drain(ctx context.Context, in <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.WriteMessage(msg); err != nil {
				return err
			}
		}
	}
}
