//go:build linux || darwin

package receiver

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// pcapHandle captures through libpcap: tunnel links on linux, every link
// on darwin.
type pcapHandle struct {
	h *pcap.Handle
}

func openPcap(iface string, snaplen int32) (*Listener, error) {
	h, err := pcap.OpenLive(iface, snaplen, true, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("pcap open %s: %w", iface, err)
	}
	return &Listener{Handle: &pcapHandle{h: h}, Link: h.LinkType()}, nil
}

func (p *pcapHandle) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return p.h.ZeroCopyReadPacketData()
}

func (p *pcapHandle) Close() { p.h.Close() }

func (p *pcapHandle) setFilter(_, expr string) error {
	return p.h.SetBPFFilter(expr)
}

func (p *pcapHandle) stats() (CaptureStats, error) {
	st, err := p.h.Stats()
	if err != nil {
		return CaptureStats{}, err
	}
	return CaptureStats{
		Received: uint64(st.PacketsReceived),
		Dropped:  uint64(st.PacketsDropped + st.PacketsIfDropped),
	}, nil
}
