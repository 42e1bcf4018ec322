// Command optesim replays a small scripted frame scenario through a Port
// built either from an HCL config file (internal/config) or the built-in
// demonstration rule set (internal/demorules), logging each step's
// outcome. With -listen set it also serves the port's live Snapshot as
// JSON, mirroring the teacher's flywall-sim server shape.
package main

import (
	"flag"
	"os"

	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/config"
	"github.com/luqmana/opte/internal/demorules"
	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/optelog"
	"github.com/luqmana/opte/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to an HCL engine config (port/layer shape only; falls back to the built-in demo rule set if empty)")
	listen := flag.String("listen", "", "address to serve a live JSON status snapshot on, e.g. :8080 (disabled if empty)")
	liveCheckTarget := flag.String("live-check", "", "real ICMP echo target to probe after the scripted scenario, e.g. 127.0.0.1 (disabled if empty)")
	flag.Parse()

	log := optelog.Default()

	p, err := buildPort(*configPath, log)
	if err != nil {
		log.Error("failed to build port", "err", err)
		os.Exit(1)
	}

	clk := capsurf.NewMockClock(0)

	var srv *statusServer
	if *listen != "" {
		srv = startStatusServer(*listen, p, log)
	}

	runScenario(p, clk, log)

	if *liveCheckTarget != "" {
		liveCheck(*liveCheckTarget, log)
	}

	if srv != nil {
		srv.waitForShutdown(log)
	}
}

// buildPort builds a Port from configPath's port/layer shape if given,
// installing the demo rule set's layers onto it; otherwise it builds the
// demo rule set's own fully-wired Port directly. config.EngineConfig
// deliberately carries no rule-table contents (see internal/config's
// package doc) — this command is the one place that grafts a concrete
// rule set onto a config-shaped skeleton.
func buildPort(configPath string, log *optelog.Logger) (*port.Port, error) {
	if configPath == "" {
		log.Info("no -config given, using built-in demo rule set")
		return demorules.BuildDemoPort(demoConfig())
	}

	log.Info("loading config", "path", configPath)
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	ports, err := cfg.BuildEngine()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		log.Info("config defines no ports, falling back to the built-in demo rule set")
		return demorules.BuildDemoPort(demoConfig())
	}

	p := ports[0]
	dcfg := demoConfig()
	services, err := demorules.BuildServicesLayer(dcfg.Identity, dcfg.DHCP)
	if err != nil {
		return nil, err
	}
	nat, err := demorules.BuildNATLayer(dcfg.NAT)
	if err != nil {
		return nil, err
	}
	p.AddLayer(services, 0)
	p.AddLayer(nat, 1)
	return p, nil
}

// demoConfig is the fixed identity/NAT/DHCP configuration the built-in
// scenario and status server both assume. The NAT pool is the single
// port 40000, so the scripted SYN-ACK reply (scenario.go) is addressed to
// the port the outbound SYN was actually translated to.
func demoConfig() demorules.Config {
	return demorules.Config{
		Identity:    gatewayIdentity,
		UFTCapacity: 1024,
		DHCP: hairpin.DHCPConfig{
			ServerIP:  gatewayIdentity.IPv4.AsSlice(),
			ServerMAC: gatewayIdentity.MAC,
			Router:    gatewayIdentity.IPv4.AsSlice(),
			Netmask:   []byte{255, 255, 255, 0},
			DNS:       nil,
			Pool:      hairpin.NewPool(ipFor("10.0.0.100"), ipFor("10.0.0.200")),
		},
		NAT: demorules.NATConfig{
			InsidePrefix: insidePrefix,
			ExternalIP:   ipFor("192.0.2.5"),
			EphemeralLo:  40000,
			EphemeralHi:  40000,
		},
	}
}
