package fakeplatform

import (
	"context"
	"testing"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinder_ScriptedPIDs(t *testing.T) {
	b := NewBinder(WithPIDs(100, 200))
	ctx := context.Background()

	first, err := b.Bind(ctx, procmgr.BindSpec{Slot: 0})
	require.NoError(t, err)
	first.Setup(procmgr.SetupParams{ChildID: 1})

	ev := <-first.Events()
	assert.Equal(t, procmgr.Event{Type: procmgr.EventConnected, PID: 100}, ev)

	second, err := b.Bind(ctx, procmgr.BindSpec{Slot: 1})
	require.NoError(t, err)
	second.Setup(procmgr.SetupParams{ChildID: 2})
	ev = <-second.Events()
	assert.Equal(t, 200, ev.PID)

	third, err := b.Bind(ctx, procmgr.BindSpec{Slot: 2})
	require.NoError(t, err)
	third.Setup(procmgr.SetupParams{})
	ev = <-third.Events()
	assert.Equal(t, 1000, ev.PID, "pids continue after the script runs out")

	assert.Equal(t, 3, b.BindCount())
	assert.Same(t, first, b.ByPID(100))
	assert.Equal(t, 1, b.ByPID(100).SetupParams().ChildID)
}

func TestBinder_BindFailures(t *testing.T) {
	b := NewBinder(WithBindFailures(1))

	_, err := b.Bind(context.Background(), procmgr.BindSpec{})
	assert.ErrorIs(t, err, ErrBindRefused)

	_, err = b.Bind(context.Background(), procmgr.BindSpec{})
	assert.NoError(t, err)
	assert.Equal(t, 1, b.BindCount())
}

func TestBinder_HoldBinds(t *testing.T) {
	b := NewBinder()
	release := b.HoldBinds()

	bound := make(chan error, 1)
	go func() {
		_, err := b.Bind(context.Background(), procmgr.BindSpec{})
		bound <- err
	}()

	require.Eventually(t, func() bool { return b.HeldCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, b.BindCount())

	release()
	release()
	require.NoError(t, <-bound)
	assert.Equal(t, 1, b.BindCount())
	assert.Equal(t, 0, b.HeldCount())

	// Released holds do not apply to later binds
	_, err := b.Bind(context.Background(), procmgr.BindSpec{})
	require.NoError(t, err)
}

func TestBinder_HoldBindsCanceled(t *testing.T) {
	b := NewBinder()
	defer b.HoldBinds()()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Bind(ctx, procmgr.BindSpec{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.BindCount())
	assert.Equal(t, 0, b.HeldCount())
}

func TestBinding_DiedExactlyOnce(t *testing.T) {
	b := NewBinder(WithAutoConnect(false))

	raw, err := b.Bind(context.Background(), procmgr.BindSpec{})
	require.NoError(t, err)
	binding := raw.(*Binding)

	binding.Setup(procmgr.SetupParams{})
	assert.Equal(t, 1, b.LiveCount())

	binding.Unbind()
	binding.Unbind()
	assert.False(t, binding.Connect(5), "No connect after death")

	var events []procmgr.Event
	for ev := range binding.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, procmgr.EventDied, events[0].Type)
	assert.True(t, binding.Unbound())
	assert.Equal(t, 0, b.LiveCount())
}
