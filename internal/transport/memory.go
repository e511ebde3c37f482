package transport

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// mailboxSize is the number of undelivered envelopes a node can hold.
const mailboxSize = 256

// Hub connects in-process nodes. Each joined node gets a mailbox drained by a
// single goroutine, so payloads from one sender arrive in send order.
type Hub struct {
	mu    sync.RWMutex
	nodes map[string]*MemoryProtocol
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*MemoryProtocol)}
}

// Join attaches nodeID to the hub and starts its delivery loop.
func (h *Hub) Join(nodeID string) (*MemoryProtocol, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[nodeID]; exists {
		return nil, fmt.Errorf("node %s already joined", nodeID)
	}

	p := &MemoryProtocol{
		hub:     h,
		self:    nodeID,
		mailbox: make(chan []byte, mailboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	h.nodes[nodeID] = p
	go p.deliverLoop()

	return p, nil
}

// Nodes returns the IDs of joined nodes, sorted.
func (h *Hub) Nodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) lookup(nodeID string) (*MemoryProtocol, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.nodes[nodeID]
	return p, ok
}

func (h *Hub) leave(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeID)
}

// MemoryProtocol is one node's endpoint on a Hub.
type MemoryProtocol struct {
	hub        *Hub
	self       string
	dispatcher dispatcher

	// sendMu orders enqueues against close(done) so nothing lands in the
	// mailbox after the delivery loop has discarded it.
	sendMu  sync.RWMutex
	mailbox chan []byte
	pending atomic.Int64
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Send encodes p and enqueues it in the target's mailbox.
func (p *MemoryProtocol) Send(ctx context.Context, target string, payload Payload) error {
	peer, ok := p.hub.lookup(target)
	if !ok {
		return &UnknownNodeError{NodeID: target}
	}

	data, err := Encode(p.self, payload)
	if err != nil {
		return err
	}

	peer.sendMu.RLock()
	defer peer.sendMu.RUnlock()
	select {
	case <-peer.done:
		return &UnknownNodeError{NodeID: target}
	default:
	}

	peer.pending.Add(1)
	select {
	case peer.mailbox <- data:
		return nil
	case <-ctx.Done():
		peer.pending.Add(-1)
		return ctx.Err()
	}
}

// Broadcast sends payload to every other node joined to the hub.
func (p *MemoryProtocol) Broadcast(ctx context.Context, payload Payload) (*BroadcastReport, error) {
	var peers []string
	for _, id := range p.hub.Nodes() {
		if id != p.self {
			peers = append(peers, id)
		}
	}
	return fanOut(ctx, peers, func(ctx context.Context, peer string) error {
		return p.Send(ctx, peer, payload)
	})
}

// RegisterReceiver adds a receiver for payloads covered by kind.
func (p *MemoryProtocol) RegisterReceiver(kind Kind, r Receiver) {
	p.dispatcher.register(kind, r)
}

// Drain blocks until every envelope enqueued so far has been dispatched.
func (p *MemoryProtocol) Drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for p.pending.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close leaves the hub and stops the delivery loop. Queued envelopes are dropped.
func (p *MemoryProtocol) Close() error {
	p.once.Do(func() {
		p.hub.leave(p.self)
		p.sendMu.Lock()
		close(p.done)
		p.sendMu.Unlock()
		<-p.stopped
	})
	return nil
}

func (p *MemoryProtocol) deliverLoop() {
	defer close(p.stopped)
	ctx := context.Background()

	for {
		select {
		case <-p.done:
			p.discard()
			return
		case data := <-p.mailbox:
			p.handle(ctx, data)
			p.pending.Add(-1)
		}
	}
}

func (p *MemoryProtocol) handle(ctx context.Context, data []byte) {
	env, payload, err := Decode(data)
	if err != nil {
		log.Printf("[Transport] Node %s dropped undecodable envelope: %v", p.self, err)
		return
	}
	if err := p.dispatcher.dispatch(ctx, env.From, payload); err != nil {
		log.Printf("[Transport] Node %s receiver failed for %s from %s: %v", p.self, env.Kind, env.From, err)
	}
}

func (p *MemoryProtocol) discard() {
	for {
		select {
		case <-p.mailbox:
			p.pending.Add(-1)
		default:
			return
		}
	}
}
