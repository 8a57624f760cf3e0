package sandbox

import (
	"fmt"
	"os"
)

// isolation is what a local isolate is cut off from beyond its own
// process group.
type isolation struct {
	// userNS runs the program in a new user namespace that maps only the
	// server's own uid and gid, so it holds no capabilities over host
	// processes even when the server runs as root.
	userNS bool
	// netNS gives the program an empty network namespace.
	netNS bool
}

func newIsolation(network string) (isolation, error) {
	var iso isolation
	switch network {
	case "", "host":
	case "none":
		if !namespacesSupported {
			return iso, fmt.Errorf("network %q requires Linux namespaces", network)
		}
		iso.netNS = true
	default:
		return iso, fmt.Errorf("network must be \"host\" or \"none\", got %q", network)
	}
	iso.userNS = namespacesSupported && (os.Geteuid() == 0 || iso.netNS)
	return iso, nil
}
