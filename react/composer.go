package react

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/hook"
	"github.com/dshills/agentgraph/llm"
	"github.com/dshills/agentgraph/state"
	"github.com/dshills/agentgraph/tool"
)

const (
	modelNodeID = "model"
	toolNodeID  = "tool"
)

// ComposerConfig wires together the model node, tool node, and declared
// hooks into the looping graph described in §4.I.
type ComposerConfig struct {
	Name       string
	Strategies map[string]state.Strategy
	Model      ModelNodeConfig
	Tool       ToolNodeConfig
	Hooks      []hook.Hook
}

// Compose builds the ReAct graph. Entry/loop-entry/loop-exit/exit nodes are
// resolved from the declared hooks' positions; hooks of the same kind chain
// in declared order, and any hook declaring jump targets gets a conditional
// edge reading hook.JumpStateKey instead of a plain one.
func Compose(cfg ComposerConfig) (*graph.StateGraph, error) {
	strategies := withDefaultStrategies(cfg.Strategies)
	g := graph.NewStateGraph(cfg.Name, strategies)

	g.AddNode(modelNodeID, ModelNode(cfg.Model))
	g.AddNode(toolNodeID, ToolNode(cfg.Tool))
	for _, h := range cfg.Hooks {
		g.AddNode(hookNodeID(h), hookFactory(h))
	}
	injectHookTools(cfg.Hooks, cfg.Tool.Registry)

	beforeAgent := filterHooks(cfg.Hooks, hook.BeforeAgent)
	beforeModel := filterHooks(cfg.Hooks, hook.BeforeModel)
	afterModel := filterHooks(cfg.Hooks, hook.AfterModel)
	afterAgent := filterHooks(cfg.Hooks, hook.AfterAgent)

	loopEntry := firstID(beforeModel, modelNodeID)
	entry := firstID(beforeAgent, loopEntry)
	loopExit := lastID(afterModel, modelNodeID)
	exitEntry := firstID(afterAgent, graph.END)

	chain(g, beforeAgent, loopEntry)
	chain(g, beforeModel, modelNodeID)
	if len(afterModel) > 0 {
		g.AddEdge(modelNodeID, graph.To(hookNodeID(afterModel[0])))
		chain(g, afterModel, "") // last hook is loopExit; its edge is added below
	}

	g.AddEdge(loopExit, graph.Branch(makeModelToTool(), map[string]string{
		"tool": toolNodeID, "loop": loopEntry, "exit": exitEntry,
	}))
	g.AddEdge(toolNodeID, graph.Branch(makeToolToModel(), map[string]string{
		"loop": loopEntry, "exit": exitEntry,
	}))

	chain(g, afterAgent, graph.END)

	g.SetEntry(entry)
	return g, nil
}

func withDefaultStrategies(in map[string]state.Strategy) map[string]state.Strategy {
	out := make(map[string]state.Strategy, len(in)+5)
	for k, v := range in {
		out[k] = v
	}
	defaults := map[string]state.Strategy{
		MessagesKey:       state.Append,
		IterationKey:      state.Replace,
		ReturnDirectKey:   state.Replace,
		RemoveByHashKey:   state.Replace,
		hook.JumpStateKey: state.Replace,
	}
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func hookNodeID(h hook.Hook) string { return "hook." + h.Name }

func hookFactory(h hook.Hook) graph.ActionFactory {
	return func() graph.Action {
		return func(ctx context.Context, st *state.State, rc *graph.RunnableConfig) (graph.Result, error) {
			delta, err := h.Run(ctx, st)
			if err != nil {
				return graph.Result{}, err
			}
			return graph.Result{Delta: graph.Delta(delta)}, nil
		}
	}
}

func filterHooks(hooks []hook.Hook, pos hook.Position) []hook.Hook {
	var out []hook.Hook
	for _, h := range hooks {
		if h.At(pos) {
			out = append(out, h)
		}
	}
	return out
}

func firstID(hooks []hook.Hook, fallback string) string {
	if len(hooks) == 0 {
		return fallback
	}
	return hookNodeID(hooks[0])
}

func lastID(hooks []hook.Hook, fallback string) string {
	if len(hooks) == 0 {
		return fallback
	}
	return hookNodeID(hooks[len(hooks)-1])
}

// chain wires a sequence of same-position hooks in declared order, the last
// one pointing at final. An empty final leaves the last hook's outbound
// edge for the caller to add (used for AFTER_MODEL, whose tail is the loop
// exit's conditional edge rather than a plain one).
func chain(g *graph.StateGraph, hooks []hook.Hook, final string) {
	for i, h := range hooks {
		var target string
		switch {
		case i+1 < len(hooks):
			target = hookNodeID(hooks[i+1])
		case final != "":
			target = final
		default:
			continue
		}
		wireHook(g, h, target)
	}
}

func wireHook(g *graph.StateGraph, h hook.Hook, target string) {
	if len(h.JumpTo) == 0 {
		g.AddEdge(hookNodeID(h), graph.To(target))
		return
	}
	g.AddEdge(hookNodeID(h), graph.Branch(jumpEdge(h), map[string]string{
		string(hook.JumpModel): modelNodeID,
		string(hook.JumpTool):  toolNodeID,
		string(hook.JumpEnd):   graph.END,
		"fallback":             target,
	}))
}

// jumpEdge implements the conditional-edge rule shared by every
// jump-capable hook: consult hook.JumpStateKey for a label its Mapping
// resolves to a destination; if absent, fall back to the hook's static
// next node via the "fallback" label.
func jumpEdge(h hook.Hook) graph.EdgeAction {
	return func(st *state.State) (string, error) {
		raw, ok := st.Get(hook.JumpStateKey)
		if !ok {
			return "fallback", nil
		}
		jump, ok := raw.(string)
		if !ok {
			return "fallback", nil
		}
		target := hook.JumpTarget(jump)
		if !h.CanJumpTo(target) {
			return "", fmt.Errorf("react: hook %q may not jump to %q", h.Name, target)
		}
		return jump, nil
	}
}

// makeModelToTool implements §4.I's loop-exit routing: dispatch to the tool
// node when the model just requested calls, loop back for another model
// round when a tool response still has outstanding calls from the
// preceding assistant, otherwise exit.
func makeModelToTool() graph.EdgeAction {
	return func(st *state.State) (string, error) {
		msgs, _ := state.Value[[]llm.Message](st, MessagesKey)
		if len(msgs) == 0 {
			return "exit", nil
		}
		last := msgs[len(msgs)-1]
		if last.Role == llm.RoleAssistant && len(last.ToolCalls) > 0 {
			return "tool", nil
		}
		if last.Role == llm.RoleTool {
			if assistant, idx, ok := lastAssistantWithCalls(msgs[:len(msgs)-1]); ok {
				if len(outstandingCalls(assistant, msgs[idx+1:])) == 0 {
					return "loop", nil
				}
			}
			return "exit", nil
		}
		return "exit", nil
	}
}

// makeToolToModel implements §4.I's tool-exit routing: exit directly when
// every executed call in this turn returned return_direct, otherwise loop
// back into the model.
func makeToolToModel() graph.EdgeAction {
	return func(st *state.State) (string, error) {
		direct, _ := state.Value[bool](st, ReturnDirectKey)
		if direct {
			return "exit", nil
		}
		return "loop", nil
	}
}

// injectHookTools gives every hook backing instance implementing
// hook.ToolInjection its matching tool.Tool: the tool registered under the
// hook's name, else the first name registry.Names() returns. There is no
// match by type.
func injectHookTools(hooks []hook.Hook, registry *tool.Registry) {
	if registry == nil {
		return
	}
	for _, h := range hooks {
		injectable, ok := h.Instance.(hook.ToolInjection)
		if !ok {
			continue
		}
		if t, ok := registry.Lookup(h.Name); ok {
			injectable.InjectTool(t)
			continue
		}
		names := registry.Names()
		if len(names) > 0 {
			if t, ok := registry.Lookup(names[0]); ok {
				injectable.InjectTool(t)
			}
		}
	}
}
