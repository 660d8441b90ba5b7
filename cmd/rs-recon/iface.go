package main

import (
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"rs_recon/internal/classify"
	"rs_recon/internal/scanner"
	"rs_recon/internal/utils/netinfo"
)

func newIfaceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "iface [name]",
		Short: "Show the addresses and next hop a scan would use",
		Long: `Print what the scan command discovers about an interface: source addresses,
gateway and its link-layer address, whether it is a raw IP tunnel, the capture
filter for a SYN scan and whether outbound RSTs are suppressed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Scan.Interface
			if len(args) == 1 {
				name = args[0]
			}
			d, err := netinfo.GetDetails(name)
			if err != nil {
				return err
			}
			return writeDetails(a.stdout, d)
		},
	}
}

func writeDetails(w io.Writer, d *netinfo.NetworkDetails) error {
	rst := "no, run: " + rstSuppressionHint()
	if checkRSTSuppression() {
		rst = "yes"
	}
	rows := [][]string{
		{"Interface", d.Iface},
		{"Tunnel", fmt.Sprint(d.Tunnel)},
		{"Source MAC", macOrDash(d.SrcMAC)},
		{"Source IPv4", addrOrDash(d.SrcIP4)},
		{"Source IPv6", addrOrDash(d.SrcIP6)},
		{"Gateway IPv4", addrOrDash(d.GatewayIP4)},
		{"Gateway IPv6", addrOrDash(d.GatewayIP6)},
		{"Gateway MAC", macOrDash(d.GatewayMAC)},
		{"Gateway MAC (v6)", macOrDash(d.GatewayMAC6)},
		{"SYN filter", scanner.BPFFilter(classify.TCPSynScan, 0)},
		{"RST suppressed", rst},
	}
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func addrOrDash(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}

func macOrDash(m net.HardwareAddr) string {
	if len(m) == 0 {
		return "-"
	}
	return m.String()
}
