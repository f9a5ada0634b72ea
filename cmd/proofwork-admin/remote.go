package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
)

var errAborted = errors.New("aborted by user")

// guardRemoteHost refuses destructive commands against hosts that do not look local
// unless allow is set, and then asks the operator to type the host name back.
func (a *app) guardRemoteHost(cmd *cobra.Command, allow bool, action string) error {
	host := a.cfg.Postgres.Host
	if !isLikelyRemoteHost(host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "\nWARNING: database host %q does not look like a local address.\nThis operation will %s.\n", host, action)
	fmt.Fprintf(out, "Type %q to continue or press enter to abort: ", host)

	resp, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && resp == "" {
		return errAborted
	}
	if strings.TrimSpace(resp) != host {
		fmt.Fprintln(out, "\nRemote safeguard check failed; aborting.")
		return errAborted
	}
	return nil
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch {
	case h == "":
		return false
	case h == "localhost", strings.HasSuffix(h, ".local"):
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	// Compose service names carry no dots.
	return strings.Contains(h, ".")
}
