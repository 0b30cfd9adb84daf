package intercept

import "github.com/dshills/agentgraph/llm"

// ToolContributor is optionally implemented by a ModelInterceptor's
// concrete type to add tools to the callable tool list without the model
// node needing to know about it (§4.F).
type ToolContributor interface {
	ContributedTools() []llm.ToolSpec
}

// CollectTools returns base plus every tool contributed by an interceptor
// in interceptors that implements ToolContributor, deduplicated by name
// (a later contributor wins on a name collision).
func CollectTools(interceptors []any, base []llm.ToolSpec) []llm.ToolSpec {
	byName := make(map[string]llm.ToolSpec, len(base))
	order := make([]string, 0, len(base))
	for _, t := range base {
		if _, ok := byName[t.Name]; !ok {
			order = append(order, t.Name)
		}
		byName[t.Name] = t
	}
	for _, ic := range interceptors {
		contributor, ok := ic.(ToolContributor)
		if !ok {
			continue
		}
		for _, t := range contributor.ContributedTools() {
			if _, ok := byName[t.Name]; !ok {
				order = append(order, t.Name)
			}
			byName[t.Name] = t
		}
	}
	out := make([]llm.ToolSpec, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out
}
