// Package tcp implements the per-flow TCP close-handshake state machine
// from spec.md §3/§4.6. The tracker watches control bits only — it never
// reassembles or reorders — and is fed from both the hot and cold paths
// after HT application. Grounded on the teacher's internal/kernel.Kernel
// capability-style state machine shape (small typed state + explicit
// transition function, no goroutines of its own).
package tcp

import (
	"sync"

	"github.com/luqmana/opte/internal/flowid"
)

// State is one of the handshake states named in spec.md §3.
type State uint8

const (
	Closed State = iota
	SynSent
	SynRcvd
	Established
	CloseWait
	LastAck
	FinWait1
	FinWait2
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case SynSent:
		return "syn_sent"
	case SynRcvd:
		return "syn_rcvd"
	case Established:
		return "established"
	case CloseWait:
		return "close_wait"
	case LastAck:
		return "last_ack"
	case FinWait1:
		return "fin_wait_1"
	case FinWait2:
		return "fin_wait_2"
	case TimeWait:
		return "time_wait"
	default:
		return "unknown"
	}
}

// Event is the observed control-bit summary for one packet on a flow,
// from the perspective of Direction (spec.md §4.6: "feeds the tracker
// with (flow_id, direction, tcp_flags, seq, ack)").
type Event struct {
	Dir  flowid.Direction
	SYN  bool
	FIN  bool
	RST  bool
	ACK  bool
}

// flowState is the per-flow record: current State plus which direction
// sent the first FIN (needed to resolve FinWait1/2 vs CloseWait/LastAck,
// since the tracker is not told which side of the connection is "local").
type flowState struct {
	state      State
	finSender  flowid.Direction
	finSent    bool
	timeWaitAt int64
}

// Tracker holds per-flow TCP state for one Port, keyed by the flow's
// Outbound-direction (canonical) flow id. It is safe for concurrent use
// from many packet-processing goroutines (spec.md §5: "preemptive
// parallel threads").
type Tracker struct {
	mu    sync.Mutex
	flows map[flowid.FlowID]*flowState
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{flows: make(map[flowid.FlowID]*flowState)}
}

// canonical returns the FlowID to key the tracker by regardless of
// packet direction: flows arriving Inbound are keyed by their Outbound
// (reverse) flow id, so both directions of one connection share one
// flowState.
func canonical(id flowid.FlowID, dir flowid.Direction) flowid.FlowID {
	if dir == flowid.Inbound {
		return id.Reverse()
	}
	return id
}

// Observe advances the state machine for id given ev, and returns the new
// state. A RST in either direction forces Closed immediately (spec.md
// §4.6: "records RST -> immediate Closed").
func (t *Tracker) Observe(id flowid.FlowID, ev Event, nowTick int64) State {
	key := canonical(id, ev.Dir)

	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.flows[key]
	if !ok {
		fs = &flowState{state: Closed}
		t.flows[key] = fs
	}

	if ev.RST {
		fs.state = Closed
		return fs.state
	}

	fs.state = transition(fs, ev)
	if fs.state == TimeWait {
		fs.timeWaitAt = nowTick
	}
	return fs.state
}

// transition implements the simplified full-duplex close handshake: a SYN
// with no ACK opens SynSent; the responding SYN-ACK opens SynRcvd; the
// initiator's ACK opens Established. From Established, a FIN from either
// side starts the active-close arm (FinWait1 for the sender, CloseWait
// for the peer); the responding FIN+ACK sequence walks both arms down to
// TimeWait. This collapses the textbook 11-state TCP diagram to the
// subset spec.md names, since the tracker only needs "has this flow
// fully closed" for cache-invalidation purposes, not full duplex-independent
// state per endpoint.
func transition(fs *flowState, ev Event) State {
	switch fs.state {
	case Closed:
		if ev.SYN && !ev.ACK {
			return SynSent
		}
		return fs.state
	case SynSent:
		if ev.SYN && ev.ACK {
			return SynRcvd
		}
		return fs.state
	case SynRcvd:
		if ev.ACK {
			return Established
		}
		return fs.state
	case Established:
		if ev.FIN {
			fs.finSender = ev.Dir
			fs.finSent = true
			return FinWait1
		}
		return fs.state
	case FinWait1:
		if ev.FIN && ev.Dir != fs.finSender {
			return CloseWait
		}
		if ev.ACK && ev.Dir != fs.finSender {
			return FinWait2
		}
		return fs.state
	case FinWait2:
		if ev.FIN && ev.Dir != fs.finSender {
			return TimeWait
		}
		return fs.state
	case CloseWait:
		if ev.FIN && ev.Dir == fs.finSender {
			return LastAck
		}
		return fs.state
	case LastAck:
		if ev.ACK {
			return TimeWait
		}
		return fs.state
	default:
		return fs.state
	}
}

// State returns the current state for id (checked under either
// direction's flow id), defaulting to Closed if no flow is tracked.
func (t *Tracker) State(id flowid.FlowID, dir flowid.Direction) State {
	key := canonical(id, dir)
	t.mu.Lock()
	defer t.mu.Unlock()
	fs, ok := t.flows[key]
	if !ok {
		return Closed
	}
	return fs.state
}

// IsClosed reports whether id's tracked state is Closed, used by the UFT
// hot path to decide "Hit & invalidated" (spec.md §4.5).
func (t *Tracker) IsClosed(id flowid.FlowID, dir flowid.Direction) bool {
	return t.State(id, dir) == Closed
}

// ExpireTimeWait sweeps flows that entered TimeWait at or before
// deadlineTick (nowTick - T_timewait, computed by the caller) and removes
// them from the tracker, returning their canonical flow ids so the caller
// can also evict the corresponding UFT/LFT entries (spec.md §4.5: "TCP
// entries in TimeWait have a fixed shorter expiry").
func (t *Tracker) ExpireTimeWait(deadlineTick int64) []flowid.FlowID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []flowid.FlowID
	for id, fs := range t.flows {
		if fs.state == TimeWait && fs.timeWaitAt <= deadlineTick {
			expired = append(expired, id)
			delete(t.flows, id)
		}
	}
	return expired
}

// Forget removes id's tracked state unconditionally (e.g. port teardown,
// or after a control-plane ClearUft).
func (t *Tracker) Forget(id flowid.FlowID) {
	key := canonical(id, flowid.Outbound)
	t.mu.Lock()
	delete(t.flows, key)
	t.mu.Unlock()
}

// Len returns the number of tracked flows, for dump_tcp_flows telemetry.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}

// Snapshot returns (flow id, state) pairs for dump_tcp_flows
// (SPEC_FULL.md §4.1).
func (t *Tracker) Snapshot() []FlowSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FlowSnapshot, 0, len(t.flows))
	for id, fs := range t.flows {
		out = append(out, FlowSnapshot{FlowID: id, State: fs.state})
	}
	return out
}

// FlowSnapshot is one dump_tcp_flows row.
type FlowSnapshot struct {
	FlowID flowid.FlowID
	State  State
}
