//go:build darwin

package sender

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// Darwin injects through a BPF device opened by libpcap for every link
// kind. There is no sendmmsg, so batched writes go out one frame at a time.

func openInjector(iface string) (PacketWriter, error) {
	h, err := pcap.OpenLive(iface, 2048, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("pcap injector on %s: %w", iface, err)
	}
	return h, nil
}

func newPacketWriter(iface string) (PacketWriter, error) { return openInjector(iface) }
func newTunnelWriter(iface string) (PacketWriter, error) { return openInjector(iface) }
func newBatchWriter(iface string) (PacketWriter, error)  { return openInjector(iface) }
