package parser

import (
	"net"

	"github.com/safchain/ethtool"
)

// ChecksumOffload reports whether any non-loopback interface on the host
// advertises receive/transmit checksum offload, the condition under which
// spec.md §4.1 permits Parse to skip BadChecksum validation entirely
// ("checksumming may be delegated to NIC offload and skipped"). Grounded
// on grimm-is-flywall/internal/ebpf/performance/hardware_offload.go's
// detectTCOffload/detectEncapOffload shape (open an *ethtool.Ethtool
// handle, list net.Interfaces, skip loopback, inspect Features()).
func ChecksumOffload() bool {
	eth, err := ethtool.NewEthtool()
	if err != nil {
		return false
	}
	defer eth.Close()

	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		features, err := eth.Features(iface.Name)
		if err != nil {
			continue
		}
		if features["rx-checksum"] || features["tx-checksum-ip-generic"] {
			return true
		}
	}
	return false
}
