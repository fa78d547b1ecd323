package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/syncerr"
)

func TestFakeClock_SleepAdvances(t *testing.T) {
	c := NewFakeClock()
	assert.Equal(t, Epoch, c.Now())

	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 4*time.Second))

	assert.Equal(t, Epoch.Add(6*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, c.Sleeps())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
	assert.Empty(t, c.Sleeps())
}

func TestFakeClock_SleepHonorsContext(t *testing.T) {
	c := NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Sleep(ctx, time.Second), context.Canceled)
}

func TestFaultyStore_FailsByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewFaultyStore(store.NewMemory())
	boom := errors.New("disk full")

	s.FailWrites("queue/", boom)
	assert.ErrorIs(t, s.Write(ctx, "queue/1", []byte("x")), boom)
	require.NoError(t, s.Write(ctx, "cache/a/b", []byte("x")))
	assert.Equal(t, 1, s.Writes())

	s.FailWrites("", nil)
	require.NoError(t, s.Write(ctx, "queue/1", []byte("x")))

	s.FailReads(boom)
	_, err := s.Read(ctx, "queue/1")
	assert.ErrorIs(t, err, boom)
}

func TestFakeObserver_PushNotifiesInOrder(t *testing.T) {
	o := NewFakeObserver(connectivity.SignalWiFi)

	var got []string
	unsubA := o.Subscribe(func(s connectivity.Signal) { got = append(got, "a:"+s.String()) })
	o.Subscribe(func(s connectivity.Signal) { got = append(got, "b:"+s.String()) })

	o.Push(connectivity.SignalNone)
	unsubA()
	o.Push(connectivity.SignalCellular)

	assert.Equal(t, []string{"a:none", "b:none", "b:cellular-like"}, got)
	assert.Equal(t, 1, o.Subscribers())

	sig, err := o.CurrentSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, connectivity.SignalCellular, sig)
	assert.Equal(t, 1, o.Queries())
}

func TestScriptedProvider_ScriptThenRepeat(t *testing.T) {
	p := NewScriptedProvider(TransientOutcome(), OK(`{"t":1}`))
	ctx := context.Background()

	_, err := p.Call(ctx)
	assert.True(t, syncerr.IsTransient(err))

	resp, err := p.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"t":1}`, string(resp.Body))

	resp, err = p.Perform(ctx, []byte(`{"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status, "last outcome repeats")

	assert.Equal(t, 3, p.Calls())
	require.Len(t, p.Payloads(), 1)
	assert.JSONEq(t, `{"id":7}`, string(p.Payloads()[0]))
}

func TestScriptedProvider_Block(t *testing.T) {
	p := NewScriptedProvider()
	p.Block()

	done := make(chan struct{})
	go func() {
		_, _ = p.Call(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("call returned while blocked")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call did not return after release")
	}
}
