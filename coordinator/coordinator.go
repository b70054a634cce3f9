// Package coordinator owns the persistent store and services state requests
// published by sandbox hosts. Responses are written into the requester's
// shared channel; the coordinator never blocks on the requester.
package coordinator

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-bridge/channel"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/store"
)

const (
	DefaultConcurrency = 16
	DefaultOpTimeout   = 10 * time.Second
	defaultInboxSize   = 64
)

// Op is a state operation.
type Op uint8

const (
	OpGet Op = iota + 1
	OpSet
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	default:
		return "UNKNOWN"
	}
}

// Request asks the coordinator to perform one operation and publish the
// response into Channel under Ticket.
type Request struct {
	Channel *channel.Channel
	Key     string
	Value   []byte
	Ticket  channel.Ticket
	ID      uuid.UUID
	Op      Op
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds the number of requests handled at once.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithOpTimeout bounds each store operation.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// WithInboxSize sets how many requests may queue before Submit blocks.
func WithInboxSize(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.inboxSize = n
		}
	}
}

// Coordinator serves GET and SET requests against a store.
type Coordinator struct {
	store       store.Store
	inbox       chan *Request
	inflight    map[uuid.UUID]*Request
	mu          sync.Mutex
	stopped     bool
	concurrency int
	inboxSize   int
	opTimeout   time.Duration
}

func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       s,
		inflight:    make(map[uuid.UUID]*Request),
		concurrency: DefaultConcurrency,
		inboxSize:   defaultInboxSize,
		opTimeout:   DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inbox = make(chan *Request, c.inboxSize)
	return c
}

// Submit enqueues req. A zero ID is replaced with a fresh one.
func (c *Coordinator) Submit(ctx context.Context, req *Request) error {
	if req == nil || req.Channel == nil {
		return errors.InvalidInput(errors.PhaseBridge, "request without a channel")
	}
	if req.Op != OpGet && req.Op != OpSet {
		return errors.New(errors.PhaseBridge, errors.KindInvalidInput).
			Value(req.Op).
			Detail("unknown operation").
			Build()
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return errStopped
	}
	if _, dup := c.inflight[req.ID]; dup {
		c.mu.Unlock()
		return errors.New(errors.PhaseBridge, errors.KindConcurrentUse).
			Value(req.ID.String()).
			Detail("duplicate request id").
			Build()
	}
	c.inflight[req.ID] = req
	c.mu.Unlock()

	select {
	case c.inbox <- req:
		return nil
	case <-ctx.Done():
		c.done(req)
		return errors.Timeout(errors.PhaseBridge, "submit "+req.Op.String(), ctx.Err())
	}
}

// Pending returns the number of submitted requests not yet answered.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

var errStopped = errors.New(errors.PhaseBridge, errors.KindStorageFault).
	Detail("coordinator is stopped").
	Build()

// Run services the inbox until ctx is done, then waits for handlers in
// flight to publish and answers every queued request with a storage fault.
// Submit fails while no Run is active after a stop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	Logger().Debug("coordinator started", zap.Int("concurrency", c.concurrency))
	defer Logger().Debug("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			c.drain()
			return ctx.Err()
		case req := <-c.inbox:
			g.Go(func() error {
				c.handle(ctx, req)
				return nil
			})
		}
	}
}

// drain refuses new requests and faults the ones already submitted. A
// Submit may still be between registering and enqueueing, so the inbox is
// polled until nothing is pending.
func (c *Coordinator) drain() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for c.Pending() > 0 {
		select {
		case req := <-c.inbox:
			c.fault(req, channel.FaultStorage, "coordinator stopped")
			c.done(req)
		case <-tick.C:
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, req *Request) {
	defer c.done(req)

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	switch req.Op {
	case OpGet:
		c.handleGet(opCtx, req)
	case OpSet:
		c.handleSet(opCtx, req)
	}
}

func (c *Coordinator) handleGet(ctx context.Context, req *Request) {
	v, err := c.store.Get(ctx, req.Key)
	switch {
	case stderrors.Is(err, store.ErrNotFound):
		c.fault(req, channel.FaultAbsent, req.Key)
		return
	case err != nil:
		c.fault(req, channel.FaultStorage, err.Error())
		return
	}

	err = req.Channel.Put(req.Ticket, v)
	if stderrors.Is(err, errors.ErrCapacity) {
		c.fault(req, channel.FaultCapacity, err.Error())
		return
	}
	c.signal(req, err)
}

func (c *Coordinator) handleSet(ctx context.Context, req *Request) {
	if err := c.store.Put(ctx, req.Key, req.Value); err != nil {
		c.fault(req, channel.FaultStorage, err.Error())
		return
	}
	c.signal(req, req.Channel.Put(req.Ticket, nil))
}

func (c *Coordinator) fault(req *Request, code channel.FaultCode, msg string) {
	Logger().Debug("publishing fault",
		zap.Stringer("id", req.ID),
		zap.Stringer("op", req.Op),
		zap.String("key", req.Key),
		zap.Uint8("code", uint8(code)),
		zap.String("message", msg))
	c.signal(req, req.Channel.PutFault(req.Ticket, code, msg))
}

func (c *Coordinator) signal(req *Request, publishErr error) {
	if publishErr != nil {
		// requester abandoned the ticket
		Logger().Warn("dropping response",
			zap.Stringer("id", req.ID),
			zap.Stringer("op", req.Op),
			zap.Error(publishErr))
		return
	}
	req.Channel.SignalReady()
}

func (c *Coordinator) done(req *Request) {
	c.mu.Lock()
	delete(c.inflight, req.ID)
	c.mu.Unlock()
}
