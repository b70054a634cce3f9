// Package channel implements the one-slot shared block a guest and the
// coordinator exchange state responses through.
package channel

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/wippyai/wasm-bridge/errors"
)

// DefaultCapacity is the size of the shared block, control word included.
const DefaultCapacity = 5 * 1024 * 1024

const headerSize = 4

// MinCapacity is the smallest usable channel: the control word plus a
// four byte payload window.
const MinCapacity = headerSize + 4

// FaultCode identifies the failure carried by a fault response.
type FaultCode uint8

const (
	FaultStorage  FaultCode = 1
	FaultAbsent   FaultCode = 2
	FaultCapacity FaultCode = 3
)

// Ticket identifies one armed request. Publishes carrying a ticket other than
// the currently armed one are discarded.
type Ticket uint64

// Channel is a one-slot mailbox over a fixed block of memory: a little-endian
// int32 control word at offset 0 followed by the payload window [4, C).
//
//	W == 0  idle
//	W  > 0  response ready, payload is W-1 bytes
//	W  < 0  fault, payload is [code][message] of -W-1 bytes
//
// The requesting side arms, blocks, and takes; the serving side puts and
// signals. At most one request is outstanding.
type Channel struct {
	mu     sync.Mutex
	buf    []byte
	ready  chan struct{}
	armed  Ticket
	issued Ticket
}

// New allocates a channel of the given total capacity in bytes.
func New(capacity int) (*Channel, error) {
	if capacity < MinCapacity || capacity > math.MaxInt32 {
		return nil, errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Value(capacity).
			Detail("capacity must be in [%d, %d]", MinCapacity, math.MaxInt32).
			Build()
	}
	return &Channel{
		buf:   make([]byte, capacity),
		ready: make(chan struct{}, 1),
	}, nil
}

// Capacity returns the total size of the block.
func (c *Channel) Capacity() int {
	return len(c.buf)
}

// MaxPayload returns the largest payload a single response can carry.
func (c *Channel) MaxPayload() int {
	return len(c.buf) - headerSize
}

// Word returns the current control word.
func (c *Channel) Word() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.word()
}

func (c *Channel) word() int32 {
	return int32(binary.LittleEndian.Uint32(c.buf[:headerSize]))
}

func (c *Channel) setWord(w int32) {
	binary.LittleEndian.PutUint32(c.buf[:headerSize], uint32(w))
}

// Arm reserves the slot for a new request. The control word must be idle.
func (c *Channel) Arm() (Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed != 0 {
		return 0, errors.ConcurrentUse(errors.PhaseChannel, "channel: a request is already outstanding")
	}
	if w := c.word(); w != 0 {
		return 0, errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Value(w).
			Detail("unread response in channel").
			Build()
	}

	// drop a wakeup left over from an abandoned exchange
	select {
	case <-c.ready:
	default:
	}

	c.issued++
	c.armed = c.issued
	return c.armed, nil
}

// Put publishes a response payload for ticket t. Payloads larger than
// MaxPayload are rejected before anything is written.
func (c *Channel) Put(t Ticket, payload []byte) error {
	if len(payload) > c.MaxPayload() {
		return errors.CapacityViolation(len(payload), c.MaxPayload())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPublish(t); err != nil {
		return err
	}
	copy(c.buf[headerSize:], payload)
	c.setWord(int32(len(payload)) + 1)
	return nil
}

// PutFault publishes a fault response for ticket t. The message is truncated
// to fit the payload window.
func (c *Channel) PutFault(t Ticket, code FaultCode, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPublish(t); err != nil {
		return err
	}
	n := 1 + len(msg)
	if n > c.MaxPayload() {
		n = c.MaxPayload()
	}
	c.buf[headerSize] = byte(code)
	copy(c.buf[headerSize+1:headerSize+n], msg)
	c.setWord(-int32(n) - 1)
	return nil
}

func (c *Channel) checkPublish(t Ticket) error {
	if t == 0 || t != c.armed {
		return errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Value(t).
			Detail("stale ticket").
			Build()
	}
	if c.word() != 0 {
		return errors.ConcurrentUse(errors.PhaseChannel, "channel: response already published")
	}
	return nil
}

// SignalReady wakes the blocked requester. Safe to call more than once.
func (c *Channel) SignalReady() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// BlockUntilReady suspends the caller until the control word is nonzero or
// ctx is done.
func (c *Channel) BlockUntilReady(ctx context.Context) error {
	for {
		if c.Word() != 0 {
			return nil
		}
		select {
		case <-c.ready:
		case <-ctx.Done():
			return errors.Timeout(errors.PhaseChannel, "channel response", ctx.Err())
		}
	}
}

// TakeAndReset copies the response out and returns the channel to idle.
// A fault response is returned as a structured error.
func (c *Channel) TakeAndReset() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.word()
	if w == 0 {
		return nil, errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Detail("no response to take").
			Build()
	}

	defer func() {
		c.setWord(0)
		c.armed = 0
	}()

	if w > 0 {
		n := int(w - 1)
		out := make([]byte, n)
		copy(out, c.buf[headerSize:headerSize+n])
		return out, nil
	}

	n := int(-w - 1)
	if n == 0 {
		return nil, errors.StorageFault("", "empty fault response", nil)
	}
	code := FaultCode(c.buf[headerSize])
	msg := string(c.buf[headerSize+1 : headerSize+n])
	return nil, faultError(code, msg)
}

// Abandon releases ticket t after the requester gave up waiting. A late
// publish for t is discarded and any response already written is dropped.
func (c *Channel) Abandon(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed != t {
		return
	}
	c.armed = 0
	c.setWord(0)
}

func faultError(code FaultCode, msg string) error {
	switch code {
	case FaultAbsent:
		return errors.Absent(msg)
	case FaultCapacity:
		return errors.New(errors.PhaseChannel, errors.KindCapacity).Detail(msg).Build()
	case FaultStorage:
		return errors.StorageFault("", msg, nil)
	default:
		return errors.StorageFault("", "unknown fault code", nil)
	}
}
