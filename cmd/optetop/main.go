// Command optetop is a live terminal dashboard over a running Port's
// Dump() snapshot — UFT occupancy, per-layer hit/miss/deny counters, and
// TCP flow count — polled on a tick the way the teacher's bubbletea
// DashboardModel polls its backend (internal/tui/dashboard.go).
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/luqmana/opte/internal/config"
	"github.com/luqmana/opte/internal/demorules"
	"github.com/luqmana/opte/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to an HCL engine config; falls back to the built-in demo rule set if empty")
	noTraffic := flag.Bool("no-traffic", false, "don't generate background demo traffic to animate the counters")
	flag.Parse()

	p, err := buildPort(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "optetop:", err)
		os.Exit(1)
	}

	if !*noTraffic {
		go generateTraffic(p)
	}

	prog := tea.NewProgram(newModel(p), tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "optetop:", err)
		os.Exit(1)
	}
}

func buildPort(configPath string) (*port.Port, error) {
	if configPath == "" {
		return demorules.BuildDemoPort(demoConfig())
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	ports, err := cfg.BuildEngine()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
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
