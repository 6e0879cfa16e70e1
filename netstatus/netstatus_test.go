package netstatus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyProber struct{ down atomic.Bool }

func (p *flakyProber) Probe(context.Context) error {
	if p.down.Load() {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func TestSetNotifiesOnlyOnTransition(t *testing.T) {
	m := NewMonitor(nil, time.Second, nil)

	var mu sync.Mutex
	var got []bool
	m.OnChange(func(online bool) {
		mu.Lock()
		got = append(got, online)
		mu.Unlock()
	})

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	assert.Equal(t, []bool{false, true}, got)
	assert.True(t, m.Online())
}

func TestCheckUsesProber(t *testing.T) {
	p := &flakyProber{}
	m := NewMonitor(p, time.Second, nil)

	p.down.Store(true)
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.Online())

	p.down.Store(false)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.Online())
}

func TestRunProbesUntilCancelled(t *testing.T) {
	p := &flakyProber{}
	p.down.Store(true)
	m := NewMonitor(p, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
