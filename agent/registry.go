package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Factory builds the agent registered under a key. It may call r.Get to
// obtain sub-agents that it hands off to; they are built first.
type Factory func(ctx context.Context, r *Registry) (*Agent, error)

// Registry caches constructed agents by key. Concurrent first requests for
// the same key share one construction.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	agents    map[string]*Agent
	group     singleflight.Group
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		agents:    make(map[string]*Agent),
		logger:    logger.With(zap.String("component", "agent_registry")),
	}
}

// Register adds a factory. Registering the same key twice is an error.
func (r *Registry) Register(key string, f Factory) error {
	if key == "" || f == nil {
		return types.NewError(types.ErrInvalidRequest, "registry key and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return types.Errorf(types.ErrConflict, "agent %q already registered", key)
	}
	if _, exists := r.agents[key]; exists {
		return types.Errorf(types.ErrConflict, "agent %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// RegisterAgent publishes an already-built agent under key.
func (r *Registry) RegisterAgent(key string, a *Agent) error {
	if a == nil {
		return types.NewError(types.ErrInvalidRequest, "agent cannot be nil")
	}
	return r.Register(key, func(context.Context, *Registry) (*Agent, error) { return a, nil })
}

type buildStackKey struct{}

// Get returns the agent for key, constructing it on first use. Callers that
// join an in-flight construction stop waiting when ctx ends; the construction
// itself runs to completion and is cached for later callers.
func (r *Registry) Get(ctx context.Context, key string) (*Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[key]
	f, known := r.factories[key]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}
	if !known {
		return nil, types.Errorf(types.ErrAgentNotFound, "agent %q is not registered", key)
	}

	stack, _ := ctx.Value(buildStackKey{}).([]string)
	if slices.Contains(stack, key) {
		return nil, types.Errorf(types.ErrInvalidAgent,
			"cyclic agent dependency: %v -> %s", stack, key)
	}
	// 构建不随首个调用方取消，否则共享这次构建的其他调用方也会失败
	buildCtx := context.WithValue(context.WithoutCancel(ctx), buildStackKey{}, append(slices.Clone(stack), key))

	ch := r.group.DoChan(key, func() (any, error) {
		return r.build(buildCtx, key, f)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn("agent construction failed", zap.String("key", key), zap.Error(res.Err))
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("agent construction shared", zap.String("key", key))
		}
		return res.Val.(*Agent), nil
	case <-ctx.Done():
		r.logger.Warn("gave up waiting for agent construction", zap.String("key", key), zap.Error(ctx.Err()))
		return nil, fmt.Errorf("agent %q: %w", key, ctx.Err())
	}
}

func (r *Registry) build(ctx context.Context, key string, f Factory) (*Agent, error) {
	r.mu.RLock()
	cached, ok := r.agents[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}
	built, err := f(ctx, r)
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("factory for %q returned nil agent", key)
	}
	r.mu.Lock()
	r.agents[key] = built
	r.mu.Unlock()
	r.logger.Debug("agent constructed", zap.String("key", key), zap.String("name", built.Name()))
	return built, nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key]
	return ok
}

// Keys returns registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
