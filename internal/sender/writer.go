package sender

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PacketWriter injects serialized frames. *afpacket.TPacket and *pcap.Handle
// satisfy it directly.
type PacketWriter interface {
	WritePacketData(data []byte) error
	Close()
}

// NewPacketWriter opens an injection handle on an Ethernet interface.
func NewPacketWriter(iface string) (PacketWriter, error) {
	return newPacketWriter(iface)
}

// NewTunnelWriter opens a raw-IP injection path for interfaces without an
// Ethernet header (GRE, SIT, WireGuard).
func NewTunnelWriter(iface string) (PacketWriter, error) {
	return newTunnelWriter(iface)
}

// NewBatchedWriter opens a writer that groups frames into sendmmsg() calls
// where the platform supports it.
func NewBatchedWriter(iface string) (PacketWriter, error) {
	return newBatchWriter(iface)
}

// Flusher is implemented by writers that buffer frames.
type Flusher interface {
	Flush() error
}

// PcapFileWriter records probe frames to a pcap file instead of a device.
// It is used for dry runs (--dump) and in tests.
type PcapFileWriter struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
	n  int
}

// NewPcapFileWriter creates path and writes a pcap header for link.
func NewPcapFileWriter(path string, link layers.LinkType) (*PcapFileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, link); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return &PcapFileWriter{f: f, w: w}, nil
}

func (p *PcapFileWriter) WritePacketData(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
	if err := p.w.WritePacket(ci, data); err != nil {
		return err
	}
	p.n++
	return nil
}

// Count returns the number of frames written.
func (p *PcapFileWriter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *PcapFileWriter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.f.Close()
}
