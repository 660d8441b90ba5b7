package targets

import (
	"context"
	stderrors "errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rs_recon/internal/errors"
)

type staticLookup map[string][]netip.Addr

func (s staticLookup) LookupAddrs(_ context.Context, host string) ([]netip.Addr, error) {
	if a, ok := s[host]; ok {
		return a, nil
	}
	return nil, stderrors.New("NXDOMAIN")
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestParseForms(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []netip.Addr
	}{
		{"single", []string{"192.0.2.7"}, addrs("192.0.2.7")},
		{"mapped", []string{"::ffff:192.0.2.7"}, addrs("192.0.2.7")},
		{"cidr", []string{"192.168.1.0/30"}, addrs("192.168.1.0", "192.168.1.1", "192.168.1.2", "192.168.1.3")},
		{"unmasked cidr", []string{"192.168.1.1/31"}, addrs("192.168.1.0", "192.168.1.1")},
		{"dash range", []string{"10.0.0.254-10.0.1.1"}, addrs("10.0.0.254", "10.0.0.255", "10.0.1.0", "10.0.1.1")},
		{"octet range", []string{"10.0.1-2.1-2"}, addrs("10.0.1.1", "10.0.1.2", "10.0.2.1", "10.0.2.2")},
		{"ipv6 prefix", []string{"2001:db8::/127"}, addrs("2001:db8::", "2001:db8::1")},
		{"overlap merges", []string{"192.0.2.1", "192.0.2.0/31"}, addrs("192.0.2.0", "192.0.2.1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Parse(context.Background(), tt.in, nil, nil)
			require.NoError(t, err)
			got, err := set.Addrs()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseExclusion(t *testing.T) {
	set, err := Parse(context.Background(),
		[]string{"192.168.1.0/24"}, []string{"192.168.1.10-192.168.1.200"}, nil)
	require.NoError(t, err)

	got, err := set.Addrs()
	require.NoError(t, err)
	assert.Len(t, got, 256-191)
	assert.False(t, set.Contains(netip.MustParseAddr("192.168.1.100")))
	assert.True(t, set.Contains(netip.MustParseAddr("192.168.1.201")))
	assert.Len(t, set.Ranges(), 2)
}

func TestParseHostnames(t *testing.T) {
	lookup := staticLookup{"www.example.test": addrs("192.0.2.10", "2001:db8::10")}

	set, err := Parse(context.Background(), []string{"www.example.test"}, nil, lookup)
	require.NoError(t, err)
	got, err := set.Addrs()
	require.NoError(t, err)
	assert.Equal(t, addrs("192.0.2.10", "2001:db8::10"), got)

	_, err = Parse(context.Background(), []string{"gone.example.test"}, nil, lookup)
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))

	_, err = Parse(context.Background(), []string{"www.example.test"}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid), "names need a resolver")
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"10.0.0.0/33", "10.0.300-301.1.1", "10.0.5-1.1"} {
		_, err := Parse(context.Background(), []string{in}, nil, nil)
		assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid), in)
	}
}

func TestEmptySet(t *testing.T) {
	set, err := Parse(context.Background(), []string{"192.0.2.1"}, []string{"192.0.2.0/24"}, nil)
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestShuffleIsPermutation(t *testing.T) {
	set, err := Parse(context.Background(), []string{"10.0.0.0/22"}, nil, nil)
	require.NoError(t, err)
	in, err := set.Addrs()
	require.NoError(t, err)

	out := Shuffle(in)
	require.Len(t, out, len(in))
	assert.ElementsMatch(t, in, out)
	assert.NotEqual(t, in, out, "1024 addresses should not come back in order")

	assert.Equal(t, addrs("192.0.2.1"), Shuffle(addrs("192.0.2.1")))
	assert.Empty(t, Shuffle(nil))
}
