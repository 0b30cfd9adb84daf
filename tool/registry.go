package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dshills/agentgraph/llm"
)

// Described is implemented by tools that can describe themselves for the
// model's tool catalog; a tool without it is still callable but is left out
// of the catalog Specs returns.
type Described interface {
	Description() string
	InputSchema() map[string]interface{}
}

// DirectReturn is implemented by a tool whose result should be handed
// straight back to the caller as the turn's final output rather than fed
// back into another model call (the spec's return_direct flag).
type DirectReturn interface {
	ReturnDirect() bool
}

// Registry is a name-keyed lookup of tools, grounded on the map-based
// lookup pattern used to wire tool calls to handlers: a ReAct tool node
// looks up each requested call by name and invokes it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under t.Name(), replacing any tool already registered
// under that name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Specs returns the llm.ToolSpec catalog for every registered tool that
// implements Described; tools without a description are omitted from the
// catalog (they remain callable if a conversation already references them).
func (r *Registry) Specs() []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for name, t := range r.tools {
		described, ok := t.(Described)
		if !ok {
			continue
		}
		specs = append(specs, llm.ToolSpec{Name: name, Description: described.Description(), Schema: described.InputSchema()})
	}
	return specs
}

// Call looks up name and invokes it, serializing its structured result to
// text per the external tool contract (name, description, inputSchema,
// call(arguments) -> text).
func (r *Registry) Call(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("tool: no tool registered under name %q", name)
	}
	out, err := t.Call(ctx, input)
	if err != nil {
		return "", err
	}
	return toText(out)
}

func toText(out map[string]interface{}) (string, error) {
	if len(out) == 1 {
		if text, ok := out["text"].(string); ok {
			return text, nil
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool: failed to serialize result: %w", err)
	}
	return string(b), nil
}
