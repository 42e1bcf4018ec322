package config

import (
	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/opteerr"
	"github.com/luqmana/opte/internal/port"
)

// Resolve turns a DirectionPolicy's keyword into a concrete default
// action. Only Allow/Deny are expressible from config — Static/Stateful/
// Hairpin/Meta defaults require generator functions no config format can
// serialize, so a layer needing one of those as its default is built in
// Go directly rather than from HCL.
func (d DirectionPolicy) Resolve() (*action.Action, error) {
	switch DefaultActionKind(d.Default) {
	case DefaultAllow:
		return action.NewAllow(), nil
	case DefaultDeny:
		return action.NewDeny(), nil
	default:
		return nil, opteerr.Errorf(opteerr.KindConfig, "unrecognized default_action %q", d.Default)
	}
}

// BuildLayer constructs a *layer.Layer from LayerConfig. The returned
// layer has empty rule tables — the caller installs the actual rule set
// (out of scope for this package) via layer.Outbound.Add/layer.Inbound.Add.
func (c LayerConfig) BuildLayer() (*layer.Layer, error) {
	out, err := c.Outbound.Resolve()
	if err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindConfig, "layer "+c.Name+" outbound default").With("layer", c.Name)
	}
	in, err := c.Inbound.Resolve()
	if err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindConfig, "layer "+c.Name+" inbound default").With("layer", c.Name)
	}
	return layer.New(layer.Config{
		Name:            c.Name,
		LFTCapacity:     c.LFTCapacity,
		LFTIdleTTL:      c.LFTIdleTTLTicks,
		OutboundDefault: out,
		InboundDefault:  in,
	})
}

// BuildPort constructs a *port.Port from PortConfig, in layer order, with
// every layer's rule tables still empty.
func (c PortConfig) BuildPort() (*port.Port, error) {
	p := port.New(port.Config{
		Name:          c.Name,
		UFTCapacity:   c.UFTCapacity,
		UFTIdleTTL:    c.UFTIdleTTLTicks,
		TimeWaitTicks: c.TimeWaitTicks,
	})
	for i, lc := range c.Layers {
		l, err := lc.BuildLayer()
		if err != nil {
			return nil, opteerr.Wrap(err, opteerr.KindConfig, "building layer").With("index", i)
		}
		p.AddLayer(l, i)
	}
	return p, nil
}

// BuildEngine constructs every configured port, in order. Validation is
// the caller's responsibility (call DeepValidate first) — BuildEngine
// does not re-validate.
func (c *EngineConfig) BuildEngine() ([]*port.Port, error) {
	ports := make([]*port.Port, 0, len(c.Ports))
	for _, pc := range c.Ports {
		p, err := pc.BuildPort()
		if err != nil {
			return nil, err
		}
		ports = append(ports, p)
	}
	return ports, nil
}
