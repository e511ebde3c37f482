package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dyluth/collective/pkg/blackboard"
)

// RedisOptions tunes a RedisProtocol. Zero values take the defaults.
type RedisOptions struct {
	Group      string        // consumer group name, default "nodes"
	Heartbeat  time.Duration // registry heartbeat interval, default 5s
	StaleAfter time.Duration // peers silent for longer are unreachable, default 15s
	Block      time.Duration // inbox read wait, default 200ms
	BatchSize  int64         // entries per read, default 16
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Group == "" {
		o.Group = "nodes"
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 5 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 3 * o.Heartbeat
	}
	if o.Block <= 0 {
		o.Block = 200 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	return o
}

// RedisProtocol delivers payloads through per-node Redis streams.
//
// Every node owns an inbox stream read through a consumer group. Entries are
// acknowledged after dispatch, so payloads survive a crash between read and
// handling and are redelivered on restart. Reachability comes from the node
// registry heartbeat.
type RedisProtocol struct {
	client     *blackboard.Client
	self       string
	opts       RedisOptions
	dispatcher dispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisProtocol creates a protocol for node self. Call Start to begin
// receiving.
func NewRedisProtocol(client *blackboard.Client, self string, opts RedisOptions) *RedisProtocol {
	return &RedisProtocol{
		client: client,
		self:   self,
		opts:   opts.withDefaults(),
		cancel: func() {},
	}
}

// Start registers the node, creates its inbox and launches the read and
// heartbeat loops. The loops run until Close is called or ctx is cancelled.
func (p *RedisProtocol) Start(ctx context.Context) error {
	if err := p.client.EnsureInbox(ctx, p.self, p.opts.Group); err != nil {
		return err
	}
	if err := p.client.RegisterNode(ctx, p.self); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.readLoop(loopCtx)
	go p.heartbeatLoop(loopCtx)

	log.Printf("[Transport] Node %s listening on %s", p.self, blackboard.InboxKey(p.client.InstanceName(), p.self))
	return nil
}

// Send appends p to the target's inbox.
func (p *RedisProtocol) Send(ctx context.Context, target string, payload Payload) error {
	reachable, err := p.client.IsNodeReachable(ctx, target, p.opts.StaleAfter)
	if err != nil {
		return fmt.Errorf("failed to resolve node %s: %w", target, err)
	}
	if !reachable {
		return &UnknownNodeError{NodeID: target}
	}

	data, err := Encode(p.self, payload)
	if err != nil {
		return err
	}

	if _, err := p.client.AppendInbox(ctx, target, data); err != nil {
		return err
	}
	return nil
}

// Broadcast sends payload to every fresh node in the registry except self.
func (p *RedisProtocol) Broadcast(ctx context.Context, payload Payload) (*BroadcastReport, error) {
	nodes, err := p.client.Nodes(ctx, p.opts.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	peers := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != p.self {
			peers = append(peers, n.ID)
		}
	}

	return fanOut(ctx, peers, func(ctx context.Context, peer string) error {
		return p.Send(ctx, peer, payload)
	})
}

// RegisterReceiver adds a receiver for payloads covered by kind.
func (p *RedisProtocol) RegisterReceiver(kind Kind, r Receiver) {
	p.dispatcher.register(kind, r)
}

// Close stops the loops and removes the node from the registry.
func (p *RedisProtocol) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = p.client.DeregisterNode(ctx, p.self)
	})
	return err
}

func (p *RedisProtocol) readLoop(ctx context.Context) {
	defer p.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	// Entries read but never acknowledged by a previous run come first.
	pending := true

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := p.client.ReadInbox(ctx, p.self, p.opts.Group, p.self, p.opts.BatchSize, p.opts.Block, pending)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Printf("[Transport] Node %s inbox read failed, retrying in %v: %v", p.self, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		bo.Reset()

		if pending && len(msgs) == 0 {
			pending = false
			continue
		}

		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *RedisProtocol) handle(ctx context.Context, msg blackboard.InboxMessage) {
	env, payload, err := Decode(msg.Payload)
	if err != nil {
		log.Printf("[Transport] Node %s dropped undecodable entry %s: %v", p.self, msg.ID, err)
	} else if err := p.dispatcher.dispatch(ctx, env.From, payload); err != nil {
		log.Printf("[Transport] Node %s receiver failed for %s from %s: %v", p.self, env.Kind, env.From, err)
	}

	// Acknowledged even when a receiver failed.
	ackCtx := context.WithoutCancel(ctx)
	if err := p.client.AckInbox(ackCtx, p.self, p.opts.Group, msg.ID); err != nil {
		log.Printf("[Transport] Node %s failed to acknowledge %s: %v", p.self, msg.ID, err)
	}
}

func (p *RedisProtocol) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.client.Heartbeat(ctx, p.self); err != nil && ctx.Err() == nil {
				log.Printf("[Transport] Node %s heartbeat failed: %v", p.self, err)
			}
		}
	}
}
