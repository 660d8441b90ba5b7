//go:build linux

package sender

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// mmsgBatch is how many frames one sendmmsg(2) call carries.
	mmsgBatch = 256
	// mmsgFrame bounds a queued frame: a full Ethernet frame without FCS.
	mmsgFrame = 1514
	// mmsgRetries caps consecutive calls that make no progress.
	mmsgRetries = 3
)

// mmsghdr is struct mmsghdr on 64-bit linux.
type mmsghdr struct {
	hdr    unix.Msghdr
	msgLen uint32
	_      [4]byte
}

// MmsgWriter copies frames into a fixed queue and hands the queue to the
// kernel with sendmmsg(2) on a raw AF_PACKET socket once it fills, or on
// Flush. Callers may reuse their buffers after WritePacketData returns.
type MmsgWriter struct {
	mu     sync.Mutex
	fd     int
	queued int
	frames [mmsgBatch][mmsgFrame]byte
	iov    [mmsgBatch]unix.Iovec
	hdrs   [mmsgBatch]mmsghdr
}

func newBatchWriter(iface string) (PacketWriter, error) {
	return NewMmsgWriter(iface)
}

// NewMmsgWriter opens a raw AF_PACKET socket bound to iface, bypassing the
// qdisc layer.
func NewMmsgWriter(iface string) (*MmsgWriter, error) {
	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("AF_PACKET socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifc.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind AF_PACKET to %s: %w", iface, err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 16<<20)
	_ = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_QDISC_BYPASS, 1)

	w := &MmsgWriter{fd: fd}
	for i := range w.hdrs {
		w.iov[i].Base = &w.frames[i][0]
		w.hdrs[i].hdr.Iov = &w.iov[i]
		w.hdrs[i].hdr.Iovlen = 1
	}
	return w, nil
}

func (w *MmsgWriter) WritePacketData(frame []byte) error {
	if len(frame) > mmsgFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(frame), mmsgFrame)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.iov[w.queued].SetLen(copy(w.frames[w.queued][:], frame))
	w.queued++
	if w.queued < mmsgBatch {
		return nil
	}
	return w.drain()
}

// Flush sends every queued frame.
func (w *MmsgWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drain()
}

// drain sends the queue, resuming after partial sends. The queue is empty
// afterwards even on error; a probe is never sent twice.
func (w *MmsgWriter) drain() error {
	n := w.queued
	w.queued = 0
	stalls := 0
	for off := 0; off < n; {
		sent, err := sendmmsg(w.fd, w.hdrs[off:n])
		switch {
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
		case err != nil:
			return fmt.Errorf("sendmmsg: %w (%d of %d frames sent)", err, off, n)
		}
		if sent <= 0 {
			if stalls++; stalls > mmsgRetries {
				return fmt.Errorf("sendmmsg stalled after %d of %d frames", off, n)
			}
			continue
		}
		stalls = 0
		off += sent
	}
	return nil
}

// Queued returns the number of frames waiting for the next send.
func (w *MmsgWriter) Queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queued
}

// Close sends what is queued and closes the socket.
func (w *MmsgWriter) Close() {
	_ = w.Flush()
	unix.Close(w.fd)
}

func sendmmsg(fd int, hdrs []mmsghdr) (int, error) {
	n, _, errno := unix.Syscall6(unix.SYS_SENDMMSG,
		uintptr(fd), uintptr(unsafe.Pointer(&hdrs[0])), uintptr(len(hdrs)), 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
