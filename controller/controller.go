// Package controller drives a host over its request/response channels.
// Responses are matched to callers by correlation id, so any number of
// goroutines can issue actions while the host runs them one at a time.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// Server runs host requests. *host.Host implements it.
type Server interface {
	Serve(ctx context.Context, in <-chan host.Request, out chan<- host.Response) error
}

// Client sends requests to a host and routes its responses.
type Client struct {
	requests  chan<- host.Request
	responses <-chan host.Response
	pending   map[string]chan host.Response
	mu        sync.Mutex
}

func New(requests chan<- host.Request, responses <-chan host.Response) *Client {
	return &Client{
		requests:  requests,
		responses: responses,
		pending:   make(map[string]chan host.Response),
	}
}

// Connect starts srv and the client's response router in g. Both stop when
// ctx is done.
func Connect(ctx context.Context, srv Server) (*Client, *errgroup.Group) {
	requests := make(chan host.Request)
	responses := make(chan host.Response)
	c := New(requests, responses)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, requests, responses)
	})
	g.Go(func() error {
		return c.Run(gctx)
	})
	return c, g
}

// Run delivers responses to waiting callers until ctx is done or the
// response channel is closed.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-c.responses:
			if !ok {
				return nil
			}
			c.deliver(resp)
		}
	}
}

func (c *Client) deliver(resp host.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()

	if !ok {
		Logger().Warn("response without a waiting request",
			zap.String("id", resp.ID),
			zap.String("action", string(resp.Action)))
		return
	}
	ch <- resp
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Do sends one action and waits for its response.
func (c *Client) Do(ctx context.Context, action host.Action, args ...any) (any, error) {
	id := uuid.NewString()
	ch := make(chan host.Response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	select {
	case c.requests <- host.Request{ID: id, Action: action, Args: args}:
	case <-ctx.Done():
		c.forget(id)
		return nil, errors.Timeout(errors.PhaseDispatch, "send "+string(action), ctx.Err())
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, errors.Timeout(errors.PhaseDispatch, string(action), ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// InitModule loads binary on the host and returns its handle.
func (c *Client) InitModule(ctx context.Context, binary []byte) (string, error) {
	v, err := c.Do(ctx, host.ActionInitModule, binary)
	if err != nil {
		return "", err
	}
	handle, ok := v.(string)
	if !ok {
		return "", unexpected(host.ActionInitModule, v)
	}
	return handle, nil
}

// InvokeExport calls name on the module behind handle.
func (c *Client) InvokeExport(ctx context.Context, handle, name string, args ...[]byte) (*sandbox.Result, error) {
	reqArgs := make([]any, 0, 2+len(args))
	reqArgs = append(reqArgs, handle, name)
	for _, a := range args {
		reqArgs = append(reqArgs, a)
	}

	v, err := c.Do(ctx, host.ActionInvokeExport, reqArgs...)
	if err != nil {
		return nil, err
	}
	res, ok := v.(*sandbox.Result)
	if !ok {
		return nil, unexpected(host.ActionInvokeExport, v)
	}
	return res, nil
}

// Verify checks a proof with the host's verifier.
func (c *Client) Verify(ctx context.Context, proof sandbox.Proof) (bool, error) {
	v, err := c.Do(ctx, host.ActionVerify, proof)
	if err != nil {
		return false, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return false, unexpected(host.ActionVerify, v)
	}
	return ok, nil
}

// CloseModule releases the module behind handle.
func (c *Client) CloseModule(ctx context.Context, handle string) error {
	_, err := c.Do(ctx, host.ActionCloseModule, handle)
	return err
}

func unexpected(action host.Action, v any) error {
	return errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
		GoType(fmt.Sprintf("%T", v)).
		Detail("unexpected %s result", action).
		Build()
}
