// Package ctlplane implements the administrative control-plane surface
// spec.md §6 names: CreatePort, DeletePort, AddLayer, RemoveLayer,
// AddRule, RemoveRule, ListLayers, ListRules, DumpUft, DumpTcpFlows,
// ClearUft, plus the OpteError response variants those commands can fail
// with. spec.md scopes the wire serialization format for these commands
// out ("only their interfaces to the core are specified"), so Registry
// exposes every command as a plain Go method over real domain types
// (*rule.Rule, match.All, *action.Action included) — the authoritative
// surface. Server additionally re-exposes the subset of commands whose
// arguments are plain data (ports/layers/capacities, not rule predicates
// or action generators) over net/rpc, grounded on the teacher's
// internal/ctlplane.Server: a Unix-socket net/rpc service registering one
// exported method per command, each shaped func(*XArgs, *XReply) error.
package ctlplane

import (
	"fmt"
	"sync"

	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/port"
	"github.com/luqmana/opte/internal/rule"
	"github.com/luqmana/opte/internal/tcp"
	"github.com/luqmana/opte/internal/uft"
)

// Registry owns the set of live ports a control-plane session can act
// on, keyed by name. It is the in-process analogue of the teacher's
// Server's sub-manager map, specialized to one kind of managed object.
type Registry struct {
	mu    sync.RWMutex
	ports map[string]*port.Port
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]*port.Port)}
}

func (r *Registry) lookup(name string) (*port.Port, *OpteError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[name]
	if !ok {
		return nil, notFound(VariantPortNotFound, "no such port %q", name)
	}
	return p, nil
}

// CreatePort registers an already-built port under a name. The caller
// builds the *port.Port itself (e.g. via config.PortConfig.BuildPort) —
// Registry only owns the name→port mapping, not port construction,
// since spec.md leaves the config format's wire shape unspecified.
func (r *Registry) CreatePort(name string, p *port.Port) *OpteError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[name]; exists {
		return &OpteError{Variant: VariantBadArgument, Message: fmt.Sprintf("port %q already exists", name)}
	}
	r.ports[name] = p
	return nil
}

// DeletePort removes a port from the registry. It does not attempt to
// drain in-flight Process calls — callers that need a quiesce point
// should stop feeding frames to the port before calling DeletePort.
func (r *Registry) DeletePort(name string) *OpteError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[name]; !ok {
		return notFound(VariantPortNotFound, "no such port %q", name)
	}
	delete(r.ports, name)
	return nil
}

// AddLayer inserts l at position pos in portName's pipeline.
func (r *Registry) AddLayer(portName string, l *layer.Layer, pos int) *OpteError {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return oerr
	}
	p.AddLayer(l, pos)
	return nil
}

// RemoveLayer removes the named layer from portName's pipeline.
func (r *Registry) RemoveLayer(portName, layerName string) *OpteError {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return oerr
	}
	if !p.RemoveLayer(layerName) {
		return notFound(VariantLayerNotFound, "no such layer %q on port %q", layerName, portName)
	}
	return nil
}

// AddRule installs r into layerName's dir-direction rule table.
func (r *Registry) AddRule(portName, layerName string, dir flowid.Direction, rl *rule.Rule) *OpteError {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return oerr
	}
	if err := p.AddRule(layerName, dir, rl); err != nil {
		return fromOpteErr(err)
	}
	return nil
}

// RemoveRule removes a rule by ID from layerName's dir-direction table.
func (r *Registry) RemoveRule(portName, layerName string, dir flowid.Direction, id rule.ID) *OpteError {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return oerr
	}
	if err := p.RemoveRule(layerName, dir, id); err != nil {
		return fromOpteErr(err)
	}
	return nil
}

// ListLayers returns portName's layer names, in pipeline order.
func (r *Registry) ListLayers(portName string) ([]string, *OpteError) {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return nil, oerr
	}
	return p.ListLayers(), nil
}

// ListRules returns a snapshot of layerName's dir-direction rule table.
func (r *Registry) ListRules(portName, layerName string, dir flowid.Direction) ([]*rule.Rule, *OpteError) {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return nil, oerr
	}
	l, ok := p.Layer(layerName)
	if !ok {
		return nil, notFound(VariantLayerNotFound, "no such layer %q on port %q", layerName, portName)
	}
	tbl := l.Outbound
	if dir == flowid.Inbound {
		tbl = l.Inbound
	}
	return tbl.Snapshot(), nil
}

// DumpUft returns a snapshot of portName's dir-direction UFT.
func (r *Registry) DumpUft(portName string, dir flowid.Direction) ([]uft.Entry, *OpteError) {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return nil, oerr
	}
	return p.DumpUft(dir), nil
}

// DumpTcpFlows returns a snapshot of portName's TCP tracker state.
func (r *Registry) DumpTcpFlows(portName string) ([]tcp.FlowSnapshot, *OpteError) {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return nil, oerr
	}
	return p.DumpTcpFlows(), nil
}

// ClearUft flushes both of portName's UFTs.
func (r *Registry) ClearUft(portName string) *OpteError {
	p, oerr := r.lookup(portName)
	if oerr != nil {
		return oerr
	}
	p.ClearUft()
	return nil
}

// Port exposes a registered port directly, for in-process callers that
// need to call Process/Tick themselves rather than go through a
// control-plane command.
func (r *Registry) Port(name string) (*port.Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[name]
	return p, ok
}

// PortNames returns every registered port's name, in no particular order.
func (r *Registry) PortNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ports))
	for name := range r.ports {
		names = append(names, name)
	}
	return names
}
