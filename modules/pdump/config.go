package pdump

import "github.com/c2h5oh/datasize"

// MinRingSize and DefaultSnaplen bound a capture configuration, matching
// teacher's minRingSize/defaultSnaplen constants in
// modules/pdump/controlplane/ring.go (there expressed via the same
// datasize package).
const (
	MinRingSize    = datasize.MB
	DefaultSnaplen = 128
)

// Config is one worker's capture configuration.
type Config struct {
	Mode        Mode
	Snaplen     uint32 // bytes of each packet captured beyond the header; 0 selects DefaultSnaplen
	RingSize    datasize.ByteSize
	PipelineIdx uint32
}

func (c Config) snaplen() uint32 {
	if c.Snaplen == 0 {
		return DefaultSnaplen
	}
	return c.Snaplen
}

func (c Config) ringSize() uint32 {
	if c.RingSize < MinRingSize {
		return uint32(MinRingSize)
	}
	return uint32(c.RingSize)
}
