package receiver

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// pollTimeout bounds how long a live read blocks, so the capture loop sees
// its stop flag promptly.
const pollTimeout = time.Millisecond

// PacketSource supplies raw link-layer frames. ReadPacket may fail
// transiently (poll timeouts, EOF on a replayed file); callers skip the error
// and read again. The returned buffer may be reused by the next call.
type PacketSource interface {
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
}

// CaptureHandle is a platform capture backend.
type CaptureHandle interface {
	PacketSource
	Close()
}

// CaptureStats are the counters a capture handle keeps about itself.
type CaptureStats struct {
	Received uint64
	Dropped  uint64
}

// Handles that can take a kernel filter or report counters implement these.
type (
	filterer interface {
		setFilter(iface, expr string) error
	}
	statser interface {
		stats() (CaptureStats, error)
	}
)

// Listener is a live capture on one interface.
type Listener struct {
	Handle CaptureHandle
	Link   layers.LinkType // framing of captured packets
}

// ReadPacket implements PacketSource.
func (l *Listener) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return l.Handle.ReadPacket()
}

// LinkType returns the framing of captured packets.
func (l *Listener) LinkType() layers.LinkType { return l.Link }

func (l *Listener) Close() { l.Handle.Close() }

// SetBPF installs a kernel filter so only candidate replies reach the
// capture loop. On failure the caller can keep going; the classifier drops
// unrelated frames itself.
func (l *Listener) SetBPF(iface, expr string) error {
	f, ok := l.Handle.(filterer)
	if !ok {
		return fmt.Errorf("%T does not take a capture filter", l.Handle)
	}
	if err := f.setFilter(iface, expr); err != nil {
		return fmt.Errorf("install filter on %s: %w", iface, err)
	}
	return nil
}

// Stats returns the handle's received and dropped counters.
func (l *Listener) Stats() (CaptureStats, error) {
	s, ok := l.Handle.(statser)
	if !ok {
		return CaptureStats{}, fmt.Errorf("%T keeps no statistics", l.Handle)
	}
	return s.stats()
}
