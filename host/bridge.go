package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/channel"
	"github.com/wippyai/wasm-bridge/coordinator"
	"github.com/wippyai/wasm-bridge/errors"
)

// DefaultBridgeTimeout bounds one state round trip.
const DefaultBridgeTimeout = 30 * time.Second

// Submitter accepts state requests. *coordinator.Coordinator implements it.
type Submitter interface {
	Submit(ctx context.Context, req *coordinator.Request) error
}

// Bridge performs synchronous state round trips over a shared channel. One
// round trip is in flight at a time; the control word is idle before each
// request and after each response is consumed.
type Bridge struct {
	coord   Submitter
	ch      *channel.Channel
	mu      sync.Mutex
	timeout time.Duration
}

// NewBridge creates a bridge. A zero timeout waits until ctx is done.
func NewBridge(coord Submitter, ch *channel.Channel, timeout time.Duration) *Bridge {
	return &Bridge{coord: coord, ch: ch, timeout: timeout}
}

// Channel returns the shared channel the bridge waits on.
func (b *Bridge) Channel() *channel.Channel {
	return b.ch
}

// Get returns the value stored under key. A missing key is reported as an
// absent error.
func (b *Bridge) Get(ctx context.Context, key string) ([]byte, error) {
	return b.roundTrip(ctx, coordinator.OpGet, key, nil)
}

// GetString returns the value under key decoded as UTF-8; invalid sequences
// become U+FFFD.
func (b *Bridge) GetString(ctx context.Context, key string) (string, error) {
	v, err := b.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(v), "�"), nil
}

// Set stores value under key. Byte slices are stored as is, strings as UTF-8,
// and any other value as its string form.
func (b *Bridge) Set(ctx context.Context, key string, value any) error {
	_, err := b.roundTrip(ctx, coordinator.OpSet, key, normalize(value))
	return err
}

func normalize(value any) []byte {
	switch v := value.(type) {
	case nil:
		return []byte{}
	case []byte:
		return v
	case string:
		return []byte(v)
	case fmt.Stringer:
		return []byte(v.String())
	default:
		return []byte(fmt.Sprint(v))
	}
}

func (b *Bridge) roundTrip(ctx context.Context, op coordinator.Op, key string, value []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ticket, err := b.ch.Arm()
	if err != nil {
		return nil, err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := &coordinator.Request{
		ID:      uuid.New(),
		Op:      op,
		Key:     key,
		Value:   value,
		Channel: b.ch,
		Ticket:  ticket,
	}
	if err := b.coord.Submit(ctx, req); err != nil {
		b.ch.Abandon(ticket)
		return nil, err
	}

	if err := b.ch.BlockUntilReady(ctx); err != nil {
		b.ch.Abandon(ticket)
		Logger().Warn("state request timed out",
			zap.Stringer("id", req.ID),
			zap.Stringer("op", op),
			zap.String("key", key))
		return nil, errors.New(errors.PhaseBridge, errors.KindTimeout).
			Key(key).
			Cause(err).
			Detail("%s did not complete", op).
			Build()
	}

	return b.ch.TakeAndReset()
}
