// Package state provides the keyed state model shared by every node in a
// compiled graph: an ordered map from key to value, plus a fixed per-key
// reduction strategy that governs how a node's delta is merged into the
// accumulated state.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Strategy is the reduction policy applied when merging a delta value into
// the accumulated value for a key.
//
// Replace overwrites the previous value outright. Append requires the prior
// value (if any) to be a sequence and produces a new sequence by
// concatenating the delta onto it; a scalar delta is pushed as a single new
// element, while a sequence delta is concatenated element-wise. A typed slice
// delta (e.g. []llm.Message) concatenates onto a prior value of the same
// slice type and keeps that type.
type Strategy int

const (
	// Replace overwrites the key's value with the delta.
	Replace Strategy = iota
	// Append concatenates the delta onto the existing sequence value.
	Append
)

func (s Strategy) String() string {
	switch s {
	case Replace:
		return "replace"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ErrUnknownKey is returned when a state update references a key that has no
// entry in the strategy table. Every key ever written must be declared ahead
// of time; this keeps reduction behavior statically known instead of
// inferred ad hoc per write.
var ErrUnknownKey = errors.New("state: unknown key (no reduction strategy registered)")

// Sequence is the wire representation of an Append-reduced value: an ordered
// list of opaque items. Typed accessors decode individual items; State
// itself only ever stores and concatenates.
type Sequence []any

// State is a keyed map with a per-key reduction strategy, as described in
// §3/§4.A of the design. A State instance is owned by exactly one execution;
// concurrent branches must Clone it before mutating, then have their deltas
// merged back in completion order.
//
// State is conceptually immutable: Update always returns a new *State,
// leaving the receiver untouched, so a branch can safely continue reading
// its pre-fanout snapshot after handing off a delta.
type State struct {
	strategies map[string]Strategy
	values     map[string]any
	order      []string // insertion order of values, for deterministic snapshot/serialize
}

// New creates an empty State bound to the given strategy table. The table
// is shared (not copied) across every State derived from this one via
// Update/Clone, matching the compiled graph's single, frozen strategy map.
func New(strategies map[string]Strategy) *State {
	return &State{
		strategies: strategies,
		values:     make(map[string]any),
	}
}

// Create seeds a State with an initial value set. It rejects any key in
// initial that has no entry in strategies.
func Create(strategies map[string]Strategy, initial map[string]any) (*State, error) {
	s := New(strategies)
	for k, v := range initial {
		if _, ok := strategies[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
		s.setRaw(k, v)
	}
	return s, nil
}

func (s *State) setRaw(key string, value any) {
	if _, exists := s.values[key]; !exists {
		s.order = append(s.order, key)
	}
	s.values[key] = value
}

// Get returns the raw value stored for key, and whether it was present.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Value returns the value at key type-asserted to T. Mirrors the design's
// typed `value(key, type) -> Option<T>` accessor; ok is false both when the
// key is absent and when the stored value is not a T.
func Value[T any](s *State, key string) (T, bool) {
	var zero T
	raw, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	return typed, ok
}

// Keys returns the state's keys in insertion order.
func (s *State) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Strategies returns the strategy table this state was created with.
func (s *State) Strategies() map[string]Strategy {
	return s.strategies
}

// Update applies delta to the state under each key's reduction strategy and
// returns a new State; the receiver is left unchanged. Unknown keys in delta
// are rejected with ErrUnknownKey.
func (s *State) Update(delta map[string]any) (*State, error) {
	next := s.Clone()
	for k, v := range delta {
		strat, ok := s.strategies[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
		switch strat {
		case Replace:
			next.setRaw(k, v)
		case Append:
			next.setRaw(k, appendValue(next.values[k], v))
		default:
			return nil, fmt.Errorf("state: unsupported strategy %v for key %q", strat, k)
		}
	}
	return next, nil
}

// appendValue implements the Append reduction: nil is a no-op, a Sequence
// (or []any) delta concatenates element-wise, a typed slice delta
// concatenates onto an absent prior value or one of the same slice type,
// and any other delta is pushed as a single new element.
func appendValue(prev any, delta any) any {
	if delta == nil {
		if prev == nil {
			return Sequence{}
		}
		return prev
	}

	if _, generic := delta.([]any); !generic {
		if dv := reflect.ValueOf(delta); dv.Kind() == reflect.Slice && dv.Type() != reflect.TypeOf(Sequence{}) &&
			(prev == nil || reflect.TypeOf(prev) == dv.Type()) {
			out := reflect.MakeSlice(dv.Type(), 0, dv.Len())
			if prev != nil {
				out = reflect.AppendSlice(out, reflect.ValueOf(prev))
			}
			return reflect.AppendSlice(out, dv).Interface()
		}
	}

	var base Sequence
	switch p := prev.(type) {
	case nil:
		base = Sequence{}
	case Sequence:
		base = p
	case []any:
		base = Sequence(p)
	default:
		base = Sequence{prev}
	}

	switch d := delta.(type) {
	case Sequence:
		return append(append(Sequence{}, base...), d...)
	case []any:
		return append(append(Sequence{}, base...), d...)
	default:
		return append(append(Sequence{}, base...), d)
	}
}

// Clone performs a deep copy of the state via JSON round-trip, so mutation
// of one branch's clone never affects another. This mirrors the design's
// "clone via the graph's stateSerializer" requirement: clone(s).update(d)
// observationally equals s.update(d), and s itself is unchanged by either.
func (s *State) Clone() *State {
	next := &State{
		strategies: s.strategies,
		values:     make(map[string]any, len(s.values)),
		order:      append([]string(nil), s.order...),
	}
	for _, k := range s.order {
		next.values[k] = deepCopy(s.values[k])
	}
	return next
}

func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Values that cannot round-trip through JSON (e.g. funcs held in
		// metadata) are shared by reference; callers must not mutate them.
		return v
	}
	// Decode into a fresh value of v's own type so a clone keeps Go types
	// (Sequence, []llm.Message, int) instead of generic JSON shapes.
	out := reflect.New(reflect.TypeOf(v))
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return v
	}
	return out.Elem().Interface()
}

// Snapshot is an immutable, serializable view of a State at a point in time,
// used by checkpoints and stream listeners. Unlike State it carries no
// strategy table — it is data only.
type Snapshot struct {
	Values map[string]any `json:"values"`
	Order  []string       `json:"order"`
}

// Snapshot captures a lightweight immutable view of the current state.
func (s *State) Snapshot() Snapshot {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = deepCopy(v)
	}
	return Snapshot{
		Values: values,
		Order:  append([]string(nil), s.order...),
	}
}

// Restore rebuilds a *State from a Snapshot under the given strategy table,
// the counterpart used when resuming a checkpointed execution.
func Restore(strategies map[string]Strategy, snap Snapshot) *State {
	s := New(strategies)
	for _, k := range snap.Order {
		s.setRaw(k, snap.Values[k])
	}
	return s
}

// MarshalJSON makes Snapshot (and therefore State, via Snapshot) the unit of
// serialization that checkpoint backends persist.
func (sn Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	return json.Marshal(alias(sn))
}
