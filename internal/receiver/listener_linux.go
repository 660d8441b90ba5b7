//go:build linux

package receiver

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// ring sizes the TPacket V2 receive ring: 64 blocks of 1 MiB holding 2 KiB
// frames absorb a full-rate reply burst between reads.
var ring = struct {
	frameSize, blockSize, blocks int
}{frameSize: 2048, blockSize: 1 << 20, blocks: 64}

// tunnelSnaplen covers a tunnel MTU; replies are classified on headers only.
const tunnelSnaplen = 2048

type ringHandle struct {
	tp *afpacket.TPacket
}

// NewListener maps an AF_PACKET receive ring on an Ethernet interface.
func NewListener(iface string) (*Listener, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(ring.frameSize),
		afpacket.OptBlockSize(ring.blockSize),
		afpacket.OptNumBlocks(ring.blocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion2),
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket ring on %s: %w", iface, err)
	}
	return &Listener{Handle: &ringHandle{tp: tp}, Link: layers.LinkTypeEthernet}, nil
}

// NewTunnelListener captures with libpcap on links without an Ethernet
// header (GRE, SIT, WireGuard), where AF_PACKET rings see nothing useful.
// Frames arrive as raw IP or Linux cooked capture.
func NewTunnelListener(iface string) (*Listener, error) {
	return openPcap(iface, tunnelSnaplen)
}

func (r *ringHandle) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return r.tp.ZeroCopyReadPacketData()
}

func (r *ringHandle) Close() { r.tp.Close() }

// setFilter compiles expr for Ethernet framing without touching the device
// and attaches the program to the ring socket.
func (r *ringHandle) setFilter(_, expr string) error {
	insts, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, ring.frameSize, expr)
	if err != nil {
		return fmt.Errorf("compile %q: %w", expr, err)
	}
	prog := make([]bpf.RawInstruction, len(insts))
	for i, in := range insts {
		prog[i] = bpf.RawInstruction{Op: in.Code, Jt: in.Jt, Jf: in.Jf, K: in.K}
	}
	return r.tp.SetBPF(prog)
}

// stats reads PACKET_STATISTICS; afpacket keeps the running totals.
func (r *ringHandle) stats() (CaptureStats, error) {
	st, _, err := r.tp.SocketStats()
	if err != nil {
		return CaptureStats{}, err
	}
	return CaptureStats{Received: uint64(st.Packets()), Dropped: uint64(st.Drops())}, nil
}
