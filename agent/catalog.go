package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/BaSui01/agentrelay/types"
)

// Definition declares an agent by data. Handoffs name other definitions by
// key and are resolved through the registry when the agent is first built.
type Definition struct {
	Key                string
	Name               string
	Instructions       string
	Model              string
	Settings           ModelSettings
	Handoffs           []string
	HandoffDescription string
	// HandoffFilter 其他 Agent 移交到此 Agent 时应用到历史上，nil 表示原样传递
	HandoffFilter ContextFilter
}

// RegisterDefinitions registers one factory per definition. Agents are
// immutable once built, so a handoff cycle among the definitions can never be
// constructed and is rejected here, before anything is registered.
func RegisterDefinitions(r *Registry, defs []Definition) error {
	byKey := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if d.Key == "" {
			return types.NewError(types.ErrInvalidAgent, "agent definition requires a key")
		}
		if _, dup := byKey[d.Key]; dup {
			return types.Errorf(types.ErrConflict, "agent %q defined twice", d.Key)
		}
		byKey[d.Key] = d
	}
	if cycle := handoffCycle(defs, byKey); cycle != nil {
		return types.Errorf(types.ErrInvalidAgent, "agent handoff cycle: %s", strings.Join(cycle, " -> "))
	}

	for _, d := range defs {
		if err := r.Register(d.Key, definitionFactory(d, byKey)); err != nil {
			return err
		}
	}
	return nil
}

func definitionFactory(d Definition, byKey map[string]Definition) Factory {
	return func(ctx context.Context, r *Registry) (*Agent, error) {
		name := d.Name
		if name == "" {
			name = d.Key
		}
		b := NewBuilder(name).
			WithInstructions(d.Instructions).
			WithModel(d.Model).
			WithModelSettings(d.Settings)

		for _, key := range d.Handoffs {
			target, err := r.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("agent %q: resolve handoff %q: %w", d.Key, key, err)
			}
			var opts []HandoffOption
			if desc := byKey[key].HandoffDescription; desc != "" {
				opts = append(opts, WithToolDescription(desc))
			}
			if f := byKey[key].HandoffFilter; f != nil {
				opts = append(opts, WithContextFilter(f))
			}
			b.WithHandoffTo(target, opts...)
		}
		return b.Build()
	}
}

// handoffCycle 深度优先查找第一个环，返回首尾相同的路径；无环返回 nil。
// 指向目录外的 key 不参与判断，由 Registry 在构建时报告。
func handoffCycle(defs []Definition, byKey map[string]Definition) []string {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[string]int, len(defs))
	var path []string

	var visit func(key string) []string
	visit = func(key string) []string {
		state[key] = onPath
		path = append(path, key)
		for _, next := range byKey[key].Handoffs {
			if _, ok := byKey[next]; !ok {
				continue
			}
			switch state[next] {
			case onPath:
				start := slices.Index(path, next)
				return append(slices.Clone(path[start:]), next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[key] = done
		return nil
	}

	for _, d := range defs {
		if state[d.Key] == unvisited {
			if cycle := visit(d.Key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
