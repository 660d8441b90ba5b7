//go:build darwin

package main

import (
	"os/exec"
	"strings"
)

// checkRSTSuppression reports whether a loaded pf rule blocks outgoing RSTs.
func checkRSTSuppression() bool {
	out, err := exec.Command("pfctl", "-sr").Output()
	if err != nil {
		return false
	}
	return hasRSTDrop(string(out))
}

// pf rules cover both address families unless they name one.
func checkRSTSuppressionV6() bool { return checkRSTSuppression() }

func rstSuppressionHint() string {
	return `echo "block drop out proto tcp from any to any flags R/R" | sudo pfctl -ef -`
}

func rstSuppressionHintV6() string { return rstSuppressionHint() }

// hasRSTDrop scans pfctl -sr output for an outbound block on R/R.
func hasRSTDrop(rules string) bool {
	for _, line := range strings.Split(rules, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "block") && strings.Contains(line, " out ") && strings.Contains(line, "flags R/R") {
			return true
		}
	}
	return false
}
