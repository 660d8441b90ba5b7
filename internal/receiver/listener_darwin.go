//go:build darwin

package receiver

// darwinSnaplen keeps whole frames; BPF devices copy into a per-read buffer
// anyway.
const darwinSnaplen = 65536

// NewListener opens a BPF device through libpcap.
func NewListener(iface string) (*Listener, error) {
	return openPcap(iface, darwinSnaplen)
}

// NewTunnelListener is NewListener: libpcap reports utun framing as
// LinkTypeNull or raw IP and the capture loop decodes either.
func NewTunnelListener(iface string) (*Listener, error) {
	return openPcap(iface, darwinSnaplen)
}
