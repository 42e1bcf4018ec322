package ctlplane

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/luqmana/opte/internal/config"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/optelog"
	"github.com/luqmana/opte/internal/tcp"
)

// Server re-exposes Registry's plain-data commands (the ones whose
// arguments and replies are marshalable without a rule/action wire
// format spec.md leaves undefined) over a Unix-domain net/rpc socket
// using the JSON-RPC codec, grounded on the teacher's
// internal/ctlplane.Server: net.Listen("unix", path) + rpc.Register +
// an Accept loop serving one connection per rpc.ServeCodec call, with
// panic recovery around each connection's service loop.
//
// AddRule/RemoveRule/ListRules are deliberately NOT exposed here: a
// rule.Rule carries match.Predicate values and an *action.Action whose
// generator fields are Go closures, neither of which JSON can carry.
// Those three commands are reachable only via Registry directly, from
// in-process Go callers.
type Server struct {
	reg *Registry
	log *optelog.Logger

	ln     net.Listener
	stopCh chan struct{}
}

// NewServer wraps reg for RPC exposure. If log is nil, optelog.Default()
// is used.
func NewServer(reg *Registry, log *optelog.Logger) *Server {
	if log == nil {
		log = optelog.Default()
	}
	return &Server{reg: reg, log: log, stopCh: make(chan struct{})}
}

// ListenAndServe binds socketPath and serves until Stop is called.
func (s *Server) ListenAndServe(socketPath string) error {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln, registering its own RPC method set
// once and dispatching each connection with the JSON-RPC codec. It
// blocks until Stop closes ln.
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName("Opte", (*rpcMethods)(s)); err != nil {
		return err
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				s.log.Error("ctlplane accept failed", "err", err)
				return err
			}
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("ctlplane connection panicked", "recovered", r)
				}
				conn.Close()
			}()
			rpcSrv.ServeCodec(jsonrpc.NewServerCodec(conn))
		}()
	}
}

// Stop closes the listener, unblocking Serve.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.ln != nil {
		s.ln.Close()
	}
}

// rpcMethods is Server under a distinct type so its exported methods
// form exactly the net/rpc surface (one method per plain-data command)
// without polluting Server's own method set namespace.
type rpcMethods Server

func (m *rpcMethods) registry() *Registry { return (*Server)(m).reg }

type CreatePortArgs struct {
	APIVersion int
	Name       string
	Port       config.PortConfig
}
type CreatePortReply struct {
	APIVersion int
	Err        *OpteError
}

func (m *rpcMethods) CreatePort(args *CreatePortArgs, reply *CreatePortReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	p, err := args.Port.BuildPort()
	if err != nil {
		reply.Err = &OpteError{Variant: VariantBadArgument, Message: err.Error()}
		return nil
	}
	reply.Err = m.registry().CreatePort(args.Name, p)
	return nil
}

type DeletePortArgs struct {
	APIVersion int
	Name       string
}
type DeletePortReply struct {
	APIVersion int
	Err        *OpteError
}

func (m *rpcMethods) DeletePort(args *DeletePortArgs, reply *DeletePortReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	reply.Err = m.registry().DeletePort(args.Name)
	return nil
}

type AddLayerArgs struct {
	APIVersion int
	Port       string
	Layer      config.LayerConfig
	Position   int
}
type AddLayerReply struct {
	APIVersion int
	Err        *OpteError
}

func (m *rpcMethods) AddLayer(args *AddLayerArgs, reply *AddLayerReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	l, err := args.Layer.BuildLayer()
	if err != nil {
		reply.Err = &OpteError{Variant: VariantBadArgument, Message: err.Error()}
		return nil
	}
	reply.Err = m.registry().AddLayer(args.Port, l, args.Position)
	return nil
}

type RemoveLayerArgs struct {
	APIVersion  int
	Port, Layer string
}
type RemoveLayerReply struct {
	APIVersion int
	Err        *OpteError
}

func (m *rpcMethods) RemoveLayer(args *RemoveLayerArgs, reply *RemoveLayerReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	reply.Err = m.registry().RemoveLayer(args.Port, args.Layer)
	return nil
}

type ListLayersArgs struct {
	APIVersion int
	Port       string
}
type ListLayersReply struct {
	APIVersion int
	Layers     []string
	Err        *OpteError
}

func (m *rpcMethods) ListLayers(args *ListLayersArgs, reply *ListLayersReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	layers, oerr := m.registry().ListLayers(args.Port)
	reply.Layers, reply.Err = layers, oerr
	return nil
}

type DumpTcpFlowsArgs struct {
	APIVersion int
	Port       string
}
type DumpTcpFlowsReply struct {
	APIVersion int
	Flows      []tcp.FlowSnapshot
	Err        *OpteError
}

func (m *rpcMethods) DumpTcpFlows(args *DumpTcpFlowsArgs, reply *DumpTcpFlowsReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	flows, oerr := m.registry().DumpTcpFlows(args.Port)
	reply.Flows, reply.Err = flows, oerr
	return nil
}

type DumpUftArgs struct {
	APIVersion int
	Port       string
	Direction  flowid.Direction
}
type DumpUftReply struct {
	APIVersion int
	// Count is reported instead of the raw entries: ht.HT's edit list is
	// unexported and carries no JSON-visible state, so the wire reply
	// can only attest to how many entries exist. Full fidelity
	// introspection goes through Registry.DumpUft directly, in-process.
	Count int
	Err   *OpteError
}

func (m *rpcMethods) DumpUft(args *DumpUftArgs, reply *DumpUftReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	entries, oerr := m.registry().DumpUft(args.Port, args.Direction)
	reply.Count, reply.Err = len(entries), oerr
	return nil
}

type ClearUftArgs struct {
	APIVersion int
	Port       string
}
type ClearUftReply struct {
	APIVersion int
	Err        *OpteError
}

func (m *rpcMethods) ClearUft(args *ClearUftArgs, reply *ClearUftReply) error {
	reply.APIVersion = CurrentAPIVersion
	if reply.Err = checkAPIVersion(args.APIVersion); reply.Err != nil {
		return nil
	}
	reply.Err = m.registry().ClearUft(args.Port)
	return nil
}
