package receiver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// eofBackoff stands in for the poll timeout of a live handle once a replayed
// file is exhausted, so the capture loop does not spin.
const eofBackoff = time.Millisecond

// Replay is a PacketSource reading frames from a pcap file. After the last
// frame every read fails with io.EOF; the capture loop then runs until its
// timeout or stop flag like it would on an idle link.
type Replay struct {
	f   *os.File
	r   *pcapgo.Reader
	eof bool
}

// OpenReplay opens a pcap file for replay.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Replay{f: f, r: r}, nil
}

// ReadPacket implements PacketSource.
func (p *Replay) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if p.eof {
		time.Sleep(eofBackoff)
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data, ci, err := p.r.ReadPacketData()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		p.eof = true
	}
	return data, ci, err
}

// LinkType returns the link type recorded in the file header.
func (p *Replay) LinkType() layers.LinkType { return p.r.LinkType() }

func (p *Replay) Close() { p.f.Close() }
