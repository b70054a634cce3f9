package channel

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/errors"
)

func newChannel(t *testing.T, capacity int) *Channel {
	t.Helper()
	c, err := New(capacity)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadCapacity(t *testing.T) {
	_, err := New(4)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))

	c, err := New(DefaultCapacity)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, c.Capacity())
	assert.Equal(t, DefaultCapacity-4, c.MaxPayload())
}

func TestChannel_RoundTrip(t *testing.T) {
	c := newChannel(t, 64)

	ticket, err := c.Arm()
	require.NoError(t, err)
	assert.Equal(t, int32(0), c.Word())

	require.NoError(t, c.Put(ticket, []byte("hello")))
	c.SignalReady()
	require.NoError(t, c.BlockUntilReady(context.Background()))
	assert.Equal(t, int32(6), c.Word())

	got, err := c.TakeAndReset()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, int32(0), c.Word())
}

func TestChannel_EmptyPayloadIsNotIdle(t *testing.T) {
	c := newChannel(t, 16)

	ticket, err := c.Arm()
	require.NoError(t, err)
	require.NoError(t, c.Put(ticket, nil))
	assert.NotEqual(t, int32(0), c.Word())

	got, err := c.TakeAndReset()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), c.Word())
}

func TestChannel_MaxPayloadFits(t *testing.T) {
	c := newChannel(t, 32)
	payload := bytes.Repeat([]byte{0xab}, c.MaxPayload())

	ticket, err := c.Arm()
	require.NoError(t, err)
	require.NoError(t, c.Put(ticket, payload))

	got, err := c.TakeAndReset()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestChannel_CapacityViolationLeavesStateUntouched(t *testing.T) {
	c := newChannel(t, 16)

	ticket, err := c.Arm()
	require.NoError(t, err)

	before := append([]byte(nil), c.buf...)
	err = c.Put(ticket, make([]byte, c.MaxPayload()+1))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCapacity))
	assert.Equal(t, before, c.buf)
	assert.Equal(t, int32(0), c.Word())

	// the ticket is still armed and usable
	require.NoError(t, c.Put(ticket, []byte("ok")))
	got, err := c.TakeAndReset()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestChannel_FaultResponses(t *testing.T) {
	tests := []struct {
		sentinel error
		name     string
		code     FaultCode
	}{
		{name: "absent", code: FaultAbsent, sentinel: errors.ErrAbsent},
		{name: "storage", code: FaultStorage, sentinel: errors.ErrStorageFault},
		{name: "capacity", code: FaultCapacity, sentinel: errors.ErrCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newChannel(t, 64)
			ticket, err := c.Arm()
			require.NoError(t, err)

			require.NoError(t, c.PutFault(ticket, tt.code, "some-key"))
			assert.Less(t, c.Word(), int32(0))

			_, err = c.TakeAndReset()
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, int32(0), c.Word())
		})
	}
}

func TestChannel_FaultMessageTruncated(t *testing.T) {
	c := newChannel(t, 12)
	ticket, err := c.Arm()
	require.NoError(t, err)

	require.NoError(t, c.PutFault(ticket, FaultStorage, "a very long storage failure message"))
	assert.Equal(t, int32(-c.MaxPayload()-1), c.Word())

	_, err = c.TakeAndReset()
	assert.True(t, stderrors.Is(err, errors.ErrStorageFault))
}

func TestChannel_ArmTwiceFails(t *testing.T) {
	c := newChannel(t, 16)
	_, err := c.Arm()
	require.NoError(t, err)

	_, err = c.Arm()
	assert.True(t, stderrors.Is(err, errors.ErrConcurrentUse))
}

func TestChannel_TakeWithoutResponseFails(t *testing.T) {
	c := newChannel(t, 16)
	_, err := c.TakeAndReset()
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
}

func TestChannel_BlockUntilReadyTimesOut(t *testing.T) {
	c := newChannel(t, 16)
	_, err := c.Arm()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.BlockUntilReady(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

func TestChannel_AbandonDiscardsLatePublish(t *testing.T) {
	c := newChannel(t, 32)

	stale, err := c.Arm()
	require.NoError(t, err)
	c.Abandon(stale)

	// late response for the abandoned request
	err = c.Put(stale, []byte("late"))
	require.Error(t, err)
	c.SignalReady()
	assert.Equal(t, int32(0), c.Word())

	fresh, err := c.Arm()
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)

	require.NoError(t, c.Put(fresh, []byte("fresh")))
	got, err := c.TakeAndReset()
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func TestChannel_CrossGoroutine(t *testing.T) {
	c := newChannel(t, 1024)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ticket, err := c.Arm()
		require.NoError(t, err)

		payload := bytes.Repeat([]byte{byte(i)}, i)
		go func() {
			time.Sleep(time.Microsecond)
			_ = c.Put(ticket, payload)
			c.SignalReady()
		}()

		require.NoError(t, c.BlockUntilReady(ctx))
		got, err := c.TakeAndReset()
		require.NoError(t, err)
		require.Equal(t, payload, got)
		require.Equal(t, int32(0), c.Word())
	}
}

func TestChannel_SingleConsumer(t *testing.T) {
	c := newChannel(t, 32)
	ticket, err := c.Arm()
	require.NoError(t, err)
	require.NoError(t, c.Put(ticket, []byte("once")))

	var taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.TakeAndReset(); err == nil {
				taken.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), taken.Load())
}
