package pdump

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is one decoded capture record handed to a reader's consumer.
type Message struct {
	Header Header
	Data   []byte // captured bytes, independent of the ring's backing array
}

// Reader drains a Ring incrementally, tolerating the writer overwriting
// data the reader hasn't caught up to yet. Grounded on workerArea's
// hasMore/read pair in the teacher's modules/pdump/controlplane/ring.go —
// the only part of that file already written in pure Go, since it never
// touches the writer side.
type Reader struct {
	ring    *Ring
	readIdx uint64
	buf     []byte
	log     *zap.SugaredLogger
}

func NewReader(ring *Ring, log *zap.SugaredLogger) *Reader {
	return &Reader{ring: ring, log: log}
}

// HasMore reports whether the writer has produced data past this
// reader's position.
func (rd *Reader) HasMore() bool {
	return rd.ring.writeIdx.Load() > rd.readIdx
}

// Read drains up to chunkSize bytes of new ring data and returns every
// complete message found within it. An incomplete trailing message is
// buffered for the next call.
func (rd *Reader) Read(chunkSize uint32) []Message {
	readable := rd.ring.readableIdx.Load()
	write := rd.ring.writeIdx.Load()

	if readable > rd.readIdx {
		// The writer advanced past us; any buffered partial data is from
		// an overwritten region and must be discarded.
		rd.buf = rd.buf[:0]
		rd.readIdx = readable
	} else {
		readable = rd.readIdx
	}

	if write <= readable {
		return nil
	}

	size := write - readable
	if size > uint64(chunkSize) {
		size = uint64(chunkSize)
	}

	mask := rd.ring.mask
	start := readable & mask
	end := (start + size) & mask

	beforeLen := len(rd.buf)
	if end > start {
		rd.buf = append(rd.buf, rd.ring.data[start:end]...)
	} else {
		rd.buf = append(rd.buf, rd.ring.data[start:]...)
		rd.buf = append(rd.buf, rd.ring.data[:end]...)
	}
	rd.readIdx += size

	// Detect whether the writer overtook us while we were copying.
	if latest := rd.ring.readableIdx.Load(); latest > readable {
		diff := latest - readable + uint64(beforeLen)
		if diff > uint64(len(rd.buf)) {
			rd.buf = rd.buf[:0]
			rd.readIdx = latest
			return nil
		}
		rd.buf = rd.buf[diff:]
	}

	var out []Message
	for len(rd.buf) >= HeaderSize {
		hdr, err := decodeHeader(rd.buf)
		if err != nil || hdr.TotalLen < uint32(HeaderSize) {
			if rd.log != nil {
				rd.log.Debugw("pdump: discarding ring buffer after header validation failure")
			}
			rd.buf = rd.buf[:0]
			return out
		}

		skip := alignToU32(int(hdr.TotalLen))
		if skip > len(rd.buf) {
			return out // incomplete message, wait for more data
		}

		data := make([]byte, int(hdr.TotalLen)-HeaderSize)
		copy(data, rd.buf[HeaderSize:hdr.TotalLen])
		out = append(out, Message{Header: hdr, Data: data})

		rd.buf = rd.buf[skip:]
	}
	return out
}

// RunReaders drains one Reader per ring concurrently, delivering messages
// onto out until ctx is cancelled. Grounded on ringBuffer.runReaders'
// errgroup fan-out, minus the shared-memory waker goroutine (this
// module's rings live in the same process, so a short poll interval
// substitutes for the cross-process notification channel).
func RunReaders(ctx context.Context, readers []*Reader, out chan<- Message, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Millisecond
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, rd := range readers {
		rd := rd
		g.Go(func() error {
			ticker := time.NewTicker(pollInterval)
			defer ticker.Stop()
			for {
				for _, msg := range rd.Read(defaultReadChunkSize) {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case out <- msg:
					}
				}
				if rd.HasMore() {
					continue
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

const defaultReadChunkSize = 64 * 1024
