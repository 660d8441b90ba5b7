//go:build linux

package main

import (
	"os/exec"
	"strings"
)

// checkRSTSuppression reports whether an OUTPUT rule drops outgoing RSTs.
func checkRSTSuppression() bool {
	return dropsRST("iptables")
}

func checkRSTSuppressionV6() bool {
	return dropsRST("ip6tables")
}

func rstSuppressionHint() string {
	return "iptables -I OUTPUT 1 -p tcp --sport 32768:60999 --tcp-flags RST RST -j DROP"
}

func rstSuppressionHintV6() string {
	return "ip6tables -I OUTPUT 1 -p tcp --sport 32768:60999 --tcp-flags RST RST -j DROP"
}

func dropsRST(tool string) bool {
	out, err := exec.Command(tool, "-S", "OUTPUT").Output()
	if err != nil {
		return false
	}
	return hasRSTDrop(string(out))
}

// hasRSTDrop scans iptables -S output for a rule dropping RST segments,
// whatever its port match.
func hasRSTDrop(rules string) bool {
	for _, line := range strings.Split(rules, "\n") {
		if strings.Contains(line, "--tcp-flags RST RST") && strings.HasSuffix(strings.TrimSpace(line), "-j DROP") {
			return true
		}
	}
	return false
}
