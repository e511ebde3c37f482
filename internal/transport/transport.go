// Package transport moves payloads between nodes.
//
// A Protocol sends to one node, broadcasts to every known peer, and dispatches
// inbound payloads to receivers registered by payload kind. Two implementations
// are provided: an in-process Hub used by tests and single-process collectives,
// and a Redis Streams implementation for nodes running as separate processes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind identifies a payload type. Kinds are dot-separated paths; a receiver
// registered on a kind also receives its descendants, and KindAll receives all.
type Kind string

const KindAll Kind = ""

// Covers reports whether a receiver registered on k handles payloads of other.
func (k Kind) Covers(other Kind) bool {
	if k == KindAll || k == other {
		return true
	}
	return strings.HasPrefix(string(other), string(k)+".")
}

// Payload is anything that can travel between nodes. Payloads must be JSON
// serialisable and their Kind must be registered with RegisterKind.
type Payload interface {
	Kind() Kind
}

// Receiver handles a payload delivered from another node.
type Receiver func(ctx context.Context, from string, p Payload) error

// Protocol is the node-to-node communication contract.
type Protocol interface {
	// Send delivers p to target at least once. Returns *UnknownNodeError when the
	// target is not reachable. Returns once the transport has accepted the payload.
	Send(ctx context.Context, target string, p Payload) error

	// Broadcast sends p to every known node except the sender. Unreachable peers
	// are recorded in the report and never abort the fan-out.
	Broadcast(ctx context.Context, p Payload) (*BroadcastReport, error)

	// RegisterReceiver adds a receiver for payloads whose kind is covered by kind.
	RegisterReceiver(kind Kind, r Receiver)

	// Close stops delivery and removes the node from the collective.
	Close() error
}

// Envelope is the wire form of a payload.
type Envelope struct {
	Kind     Kind            `json:"kind"`
	From     string          `json:"from"`
	Body     json.RawMessage `json:"body"`
	SentAtMs int64           `json:"sent_at_ms"`
}

var (
	kindsMu sync.RWMutex
	kinds   = map[Kind]func() Payload{}
)

// RegisterKind makes a payload kind decodable. factory must return a pointer
// to a fresh zero value.
func RegisterKind(kind Kind, factory func() Payload) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = factory
}

func init() {
	RegisterKind(KindInsight, func() Payload { return &InsightPayload{} })
	RegisterKind(KindBifurcation, func() Payload { return &Bifurcation{} })
}

// Encode wraps p in an envelope and marshals it.
func Encode(from string, p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(Envelope{
		Kind:     p.Kind(),
		From:     from,
		Body:     body,
		SentAtMs: time.Now().UnixMilli(),
	})
}

// Decode parses an envelope and its payload.
func Decode(data []byte) (*Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	kindsMu.RLock()
	factory, ok := kinds[env.Kind]
	kindsMu.RUnlock()
	if !ok {
		return &env, nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}

	p := factory()
	if err := json.Unmarshal(env.Body, p); err != nil {
		return &env, nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	return &env, p, nil
}

type registration struct {
	kind     Kind
	receiver Receiver
}

// dispatcher fans an inbound payload out to matching receivers in
// registration order.
type dispatcher struct {
	mu   sync.RWMutex
	regs []registration
}

func (d *dispatcher) register(kind Kind, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = append(d.regs, registration{kind: kind, receiver: r})
}

func (d *dispatcher) dispatch(ctx context.Context, from string, p Payload) error {
	d.mu.RLock()
	regs := d.regs
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if !reg.kind.Covers(p.Kind()) {
			continue
		}
		if err := reg.receiver(ctx, from, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrUnknownNode is matched by every *UnknownNodeError.
var ErrUnknownNode = errors.New("unknown node")

// UnknownNodeError reports a send to a node that is not reachable.
type UnknownNodeError struct {
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %s is not reachable", e.NodeID)
}

func (e *UnknownNodeError) Is(target error) bool {
	return target == ErrUnknownNode
}

// BroadcastReport records the outcome of a broadcast per peer.
type BroadcastReport struct {
	Delivered []string
	Failed    map[string]error
}

// FailedNodes returns the IDs of peers the broadcast could not reach, sorted.
func (r *BroadcastReport) FailedNodes() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PartialBroadcastError is returned when at least one peer failed.
type PartialBroadcastError struct {
	Report *BroadcastReport
}

func (e *PartialBroadcastError) Error() string {
	return fmt.Sprintf("broadcast failed for %d of %d node(s): %s",
		len(e.Report.Failed), len(e.Report.Failed)+len(e.Report.Delivered),
		strings.Join(e.Report.FailedNodes(), ", "))
}

func (e *PartialBroadcastError) Unwrap() []error {
	errs := make([]error, 0, len(e.Report.Failed))
	for _, id := range e.Report.FailedNodes() {
		errs = append(errs, e.Report.Failed[id])
	}
	return errs
}
