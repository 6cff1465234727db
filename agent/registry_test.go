package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_GetBuildsOnce(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	var builds atomic.Int32
	require.NoError(t, r.Register("support", func(ctx context.Context, _ *Registry) (*Agent, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return NewBuilder("Support").Build()
	}))

	const n = 16
	got := make([]*Agent, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get(context.Background(), "support")
			assert.NoError(t, err)
			got[i] = a
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "concurrent first requests share one construction")
	for _, a := range got {
		assert.Same(t, got[0], a)
	}

	again, err := r.Get(context.Background(), "support")
	require.NoError(t, err)
	assert.Same(t, got[0], again)
	assert.Equal(t, int32(1), builds.Load())
}

func TestRegistry_Dependencies(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterAgent("billing", NewBuilder("Billing").MustBuild()))
	require.NoError(t, r.Register("triage", func(ctx context.Context, reg *Registry) (*Agent, error) {
		billing, err := reg.Get(ctx, "billing")
		if err != nil {
			return nil, err
		}
		return NewBuilder("Triage").WithHandoffTo(billing).Build()
	}))

	triage, err := r.Get(context.Background(), "triage")
	require.NoError(t, err)
	_, ok := triage.HandoffByToolName("handoff_to_billing")
	assert.True(t, ok)
	assert.Equal(t, []string{"billing", "triage"}, r.Keys())
	assert.True(t, r.Has("triage"))
	assert.False(t, r.Has("refunds"))
}

func TestRegistry_Cycle(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register("a", func(ctx context.Context, reg *Registry) (*Agent, error) {
		b, err := reg.Get(ctx, "b")
		if err != nil {
			return nil, err
		}
		return NewBuilder("A").WithHandoffTo(b).Build()
	}))
	require.NoError(t, r.Register("b", func(ctx context.Context, reg *Registry) (*Agent, error) {
		a, err := reg.Get(ctx, "a")
		if err != nil {
			return nil, err
		}
		return NewBuilder("B").WithHandoffTo(a).Build()
	}))

	done := make(chan error, 1)
	go func() {
		_, err := r.Get(context.Background(), "a")
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cyclic agent dependency")
	case <-time.After(2 * time.Second):
		t.Fatal("cyclic construction deadlocked")
	}
}

func TestRegistry_CrossGoroutineCycleHonorsContext(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	var started sync.WaitGroup
	started.Add(2)
	mutual := func(name, other string) Factory {
		return func(ctx context.Context, reg *Registry) (*Agent, error) {
			// 两个构建都开始后才解析对方，使双方互相等待
			started.Done()
			started.Wait()
			peer, err := reg.Get(ctx, other)
			if err != nil {
				return nil, err
			}
			return NewBuilder(name).WithHandoffTo(peer).Build()
		}
	}
	require.NoError(t, r.Register("a", mutual("A", "b")))
	require.NoError(t, r.Register("b", mutual("B", "a")))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errs := make(chan error, 2)
	for _, key := range []string{"a", "b"} {
		go func() {
			_, err := r.Get(ctx, key)
			errs <- err
		}()
	}
	for range 2 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		case <-time.After(2 * time.Second):
			t.Fatal("Get ignored its context while construction was stuck")
		}
	}

	// 后续调用方同样受自身 context 约束
	late, lateCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer lateCancel()
	_, err := r.Get(late, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_CancelledCallerDoesNotFailSharedBuild(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	release := make(chan struct{})
	require.NoError(t, r.Register("support", func(ctx context.Context, _ *Registry) (*Agent, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewBuilder("Support").Build()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Get(ctx, "support")
		first <- err
	}()
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	a, err := r.Get(context.Background(), "support")
	require.NoError(t, err)
	assert.Equal(t, "Support", a.Name())
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Get(context.Background(), "missing")
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))

	assert.True(t, types.IsCode(r.Register("", nil), types.ErrInvalidRequest))
	assert.True(t, types.IsCode(r.RegisterAgent("x", nil), types.ErrInvalidRequest))

	require.NoError(t, r.RegisterAgent("x", NewBuilder("X").MustBuild()))
	assert.True(t, types.IsCode(r.RegisterAgent("x", NewBuilder("X").MustBuild()), types.ErrConflict))

	require.NoError(t, r.Register("broken", func(context.Context, *Registry) (*Agent, error) {
		return nil, nil
	}))
	_, err = r.Get(context.Background(), "broken")
	assert.ErrorContains(t, err, "returned nil agent")
}
