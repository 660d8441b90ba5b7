package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/miekg/dns"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rs_recon/internal/errors"
	"rs_recon/internal/output"
	"rs_recon/internal/traceroute"
	"rs_recon/internal/ui"
	"rs_recon/internal/utils/netinfo"
)

// run executes the root command with args and returns what it wrote to
// stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func readJSONL(t *testing.T, data string) []output.Result {
	t.Helper()
	var out []output.Result
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var r output.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		out = append(out, r)
	}
	return out
}

func startDNS(t *testing.T) string {
	t.Helper()
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		switch {
		case q.Name == "host.example.test." && q.Qtype == dns.TypeA:
			rr, _ := dns.NewRR("host.example.test. 60 IN A 192.0.2.7")
			m.Answer = append(m.Answer, rr)
		case q.Name == "7.2.0.192.in-addr.arpa." && q.Qtype == dns.TypePTR:
			rr, _ := dns.NewRR("7.2.0.192.in-addr.arpa. 60 IN PTR host.example.test.")
			m.Answer = append(m.Answer, rr)
		case q.Name != "host.example.test.":
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestResolveCommand(t *testing.T) {
	server := startDNS(t)
	out, err := run(t, "resolve", "--dns-server", server, "--format", "jsonl", "--quiet",
		"host.example.test", "192.0.2.7", "missing.example.test")
	require.NoError(t, err)

	recs := readJSONL(t, out)
	require.Len(t, recs, 3)
	assert.Equal(t, output.EventDNS, recs[0].Event)
	assert.Equal(t, "addr", recs[0].Status)
	assert.Equal(t, []string{"192.0.2.7"}, recs[0].Addrs)
	assert.Equal(t, "host", recs[1].Status)
	assert.Equal(t, "host.example.test", strings.TrimSuffix(recs[1].Host, "."))
	assert.Equal(t, "error", recs[2].Status)
	assert.NotEmpty(t, recs[2].Error)
	assert.Equal(t, recs[0].ScanID, recs[2].ScanID, "one scan id per run")
}

func TestResolveNeedsArgs(t *testing.T) {
	_, err := run(t, "resolve")
	assert.Error(t, err)
}

// writeReplies records a SYN-ACK from 192.0.2.1:80 and a RST-ACK from
// 192.0.2.1:81, both addressed to 192.0.2.10:40000.
func writeReplies(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	reply := func(sport uint16, syn, rst bool) []byte {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
			DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 60, Protocol: layers.IPProtocolTCP,
			SrcIP: net.IPv4(192, 0, 2, 1).To4(), DstIP: net.IPv4(192, 0, 2, 10).To4()}
		tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: 40000, SYN: syn, RST: rst, ACK: true, Window: 64240}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf,
			gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}, eth, ip, tcp))
		return buf.Bytes()
	}
	for _, data := range [][]byte{reply(80, true, false), reply(81, false, true)} {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	require.NoError(t, f.Close())
}

func TestScanOfflineReplay(t *testing.T) {
	dir := t.TempDir()
	replies := filepath.Join(dir, "replies.pcap")
	probes := filepath.Join(dir, "probes.pcap")
	results := filepath.Join(dir, "out.jsonl")
	writeReplies(t, replies)

	_, err := run(t, "scan",
		"--source-ip", "192.0.2.10", "--src-port", "40000",
		"--dump", probes, "--replay", replies,
		"-p", "80,81", "--rate", "0", "--timeout", "2s", "--wait", "300ms",
		"-o", results, "--format", "jsonl", "--quiet",
		"192.0.2.1")
	require.NoError(t, err)

	data, err := os.ReadFile(results)
	require.NoError(t, err)
	status := map[uint16]string{}
	for _, r := range readJSONL(t, string(data)) {
		assert.Equal(t, output.EventPort, r.Event)
		assert.Equal(t, "192.0.2.1", r.IP)
		assert.Equal(t, "tcp", r.Proto)
		status[r.Port] = r.Status
	}
	assert.Equal(t, map[uint16]string{80: "open", 81: "closed"}, status)

	f, err := os.Open(probes)
	require.NoError(t, err)
	defer f.Close()
	pr, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeRaw, pr.LinkType())

	dst := map[layers.TCPPort]bool{}
	for {
		frame, _, err := pr.ReadPacketData()
		if err != nil {
			break
		}
		pkt := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.Default)
		tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		require.True(t, ok)
		assert.True(t, tcp.SYN)
		assert.Equal(t, layers.TCPPort(40000), tcp.SrcPort)
		dst[tcp.DstPort] = true
	}
	assert.Equal(t, map[layers.TCPPort]bool{80: true, 81: true}, dst)
}

func TestScanOpenOnlyTable(t *testing.T) {
	dir := t.TempDir()
	replies := filepath.Join(dir, "replies.pcap")
	writeReplies(t, replies)

	out, err := run(t, "scan",
		"--source-ip", "192.0.2.10", "--src-port", "40000", "--gw-mac", "02:00:00:00:00:02",
		"--dump", filepath.Join(dir, "probes.pcap"), "--replay", replies,
		"-p", "80,81", "--rate", "0", "--timeout", "2s", "--wait", "300ms",
		"--open-only", "--format", "table", "--quiet",
		"192.0.2.1")
	require.NoError(t, err)
	assert.Contains(t, out, "192.0.2.1")
	assert.Contains(t, out, "open")
	assert.NotContains(t, out, "closed")
}

func TestScanErrors(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "probes.pcap")
	cases := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"no targets", []string{"scan", "--dump", dump, "--source-ip", "192.0.2.10"}, errors.CodeTargetInvalid},
		{"all excluded", []string{"scan", "--dump", dump, "--source-ip", "192.0.2.10",
			"--exclude", "192.0.2.0/24", "192.0.2.1"}, errors.CodeTargetInvalid},
		{"bad target", []string{"scan", "--dump", dump, "--source-ip", "192.0.2.10", "300.1.1.1/8"}, errors.CodeTargetInvalid},
		{"dump needs source", []string{"scan", "--dump", dump, "192.0.2.1"}, errors.CodeConfiguration},
		{"bad ports", []string{"scan", "--dump", dump, "--source-ip", "192.0.2.10", "-p", "99999", "192.0.2.1"}, errors.CodeConfiguration},
		{"bad type", []string{"scan", "-t", "xmas", "192.0.2.1"}, errors.CodeConfiguration},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := run(t, append(c.args, "--quiet")...)
			require.Error(t, err)
			assert.Equal(t, c.code, errors.CodeOf(err), err.Error())
		})
	}
}

// scriptedIter answers every hop from one router until ttl reaches last.
type scriptedIter struct {
	ttl, last uint8
}

func (s *scriptedIter) Next(*atomic.Bool) (traceroute.Hop, bool) {
	if s.ttl >= s.last {
		return traceroute.Hop{}, false
	}
	s.ttl++
	return traceroute.Hop{TTL: s.ttl, Queries: []traceroute.Query{
		{RTT: time.Duration(s.ttl) * time.Millisecond, Addr: []string{"198.51.100.1"}},
	}}, true
}

func (s *scriptedIter) Close() error { return nil }

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := &app{v: viper.New(), stdout: &out, stderr: &out}
	a.v.Set("log.level", "error")
	a.v.Set("output.quiet", true)
	require.NoError(t, a.setup())
	t.Cleanup(a.teardown)
	return a, &out
}

func TestTraceReportsEveryHop(t *testing.T) {
	a, out := newTestApp(t)
	a.cfg.Output.Format = "jsonl"

	targets := []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}
	factory := func(netip.Addr) (traceroute.HopIterator, error) {
		return &scriptedIter{last: 3}, nil
	}
	require.NoError(t, a.trace(targets, factory))

	recs := readJSONL(t, out.String())
	require.Len(t, recs, 6)
	perTarget := map[string][]uint8{}
	for _, r := range recs {
		assert.Equal(t, output.EventHop, r.Event)
		assert.Equal(t, [][]string{{"198.51.100.1"}}, r.Replies)
		assert.Equal(t, int64(r.Hop), r.RTTMs)
		perTarget[r.IP] = append(perTarget[r.IP], r.Hop)
	}
	assert.Equal(t, []uint8{1, 2, 3}, perTarget["192.0.2.1"])
	assert.Equal(t, []uint8{1, 2, 3}, perTarget["192.0.2.2"])
}

func TestOpenSinkFormats(t *testing.T) {
	a, out := newTestApp(t)

	a.cfg.Output.Format = "csv"
	sink, err := a.openSink()
	require.NoError(t, err)
	require.NoError(t, sink.Write(&output.Result{Event: output.EventHost, IP: "192.0.2.1", Status: "up", TTL: 64}))
	require.NoError(t, sink.Close())
	assert.Contains(t, out.String(), "192.0.2.1")

	a.cfg.Output.Format = "nope"
	_, err = a.openSink()
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))

	a.cfg.Output.Format = "jsonl"
	a.cfg.Output.File = filepath.Join(t.TempDir(), "missing", "out.jsonl")
	_, err = a.openSink()
	assert.Equal(t, errors.CodeConfiguration, errors.CodeOf(err))
}

func TestStreamsRule(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Output.Format = "jsonl"
	assert.False(t, a.streams(ui.ModeTUI), "stdout records wait for the view to close")
	assert.True(t, a.streams(ui.ModeText))
	a.cfg.Output.File = "out.jsonl"
	assert.True(t, a.streams(ui.ModeTUI))
	a.cfg.Output.Format = "table"
	assert.False(t, a.streams(ui.ModeSilent))
}

func TestWriteDetails(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDetails(&buf, &netinfo.NetworkDetails{
		Iface:      "eth0",
		SrcMAC:     net.HardwareAddr{2, 0, 0, 0, 0, 1},
		SrcIP4:     netip.MustParseAddr("192.0.2.10"),
		GatewayIP4: netip.MustParseAddr("192.0.2.254"),
		GatewayMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2},
	}))
	out := buf.String()
	for _, want := range []string{"eth0", "192.0.2.10", "192.0.2.254", "02:00:00:00:00:02", "tcp"} {
		assert.Contains(t, out, want)
	}
}

func TestHasRSTDrop(t *testing.T) {
	assert.False(t, hasRSTDrop(""))
	assert.False(t, hasRSTDrop("some unrelated rule"))
}
