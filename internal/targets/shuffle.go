package targets

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
)

const feistelRounds = 6

// permutation is a keyed bijection on [0, size), built from a balanced
// Feistel network with cycle-walking.
type permutation struct {
	keys      [feistelRounds]uint64
	size      uint64
	halfWidth uint
	lowerMask uint64
}

func newPermutation(size uint64) *permutation {
	// Smallest even bit width covering size.
	bits := uint(2)
	for (uint64(1) << bits) < size {
		bits++
	}
	if bits%2 != 0 {
		bits++
	}

	p := &permutation{size: size, halfWidth: bits / 2}
	p.lowerMask = (1 << p.halfWidth) - 1

	b := make([]byte, feistelRounds*8)
	_, _ = rand.Read(b)
	for i := range p.keys {
		p.keys[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return p
}

func (p *permutation) at(index uint64) uint64 {
	x := index
	for {
		x = p.encrypt(x)
		if x < p.size {
			return x
		}
	}
}

func (p *permutation) encrypt(block uint64) uint64 {
	left := (block >> p.halfWidth) & p.lowerMask
	right := block & p.lowerMask
	for _, k := range p.keys {
		left, right = right, left^(mix(right, k)&p.lowerMask)
	}
	return (left << p.halfWidth) | right
}

// mix is the murmur3 64-bit finalizer keyed by xor.
func mix(val, key uint64) uint64 {
	v := val ^ key
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}

// Shuffle returns addrs in a random order so consecutive probes spread
// across networks. The input is not modified.
func Shuffle(addrs []netip.Addr) []netip.Addr {
	if len(addrs) < 2 {
		return append([]netip.Addr(nil), addrs...)
	}
	p := newPermutation(uint64(len(addrs)))
	out := make([]netip.Addr, len(addrs))
	for i := range out {
		out[i] = addrs[p.at(uint64(i))]
	}
	return out
}
