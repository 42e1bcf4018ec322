package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/luqmana/opte/internal/opteerr"
)

// LoadFile reads and decodes an HCL engine configuration file.
func LoadFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindConfig, "failed to read config file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes an HCL engine configuration already in memory, e.g.
// embedded in a test or fetched over the control plane.
func LoadBytes(filename string, data []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindConfig, "failed to decode HCL config")
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills zero-valued optional capacity/TTL fields. Required
// fields (names, default_action) are left alone — Validate rejects their
// absence rather than silently defaulting them.
func applyDefaults(cfg *EngineConfig) {
	for pi := range cfg.Ports {
		p := &cfg.Ports[pi]
		if p.UFTCapacity == 0 {
			p.UFTCapacity = defaultUFTCapacity
		}
		if p.UFTIdleTTLTicks == 0 {
			p.UFTIdleTTLTicks = defaultIdleTTLTicks
		}
		for li := range p.Layers {
			l := &p.Layers[li]
			if l.LFTCapacity == 0 {
				l.LFTCapacity = defaultLFTCapacity
			}
			if l.LFTIdleTTLTicks == 0 {
				l.LFTIdleTTLTicks = defaultIdleTTLTicks
			}
		}
	}
}
