package actionkit

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

var ErrNilHandler = errors.New("actionkit: nil handler")

// ReducerFunc is the plain (state, action) -> state form of a reducer.
type ReducerFunc[S any] func(state S, action Action) S

// Fold applies every action in order, starting from state.
func (rf ReducerFunc[S]) Fold(state S, actions iter.Seq[Action]) S {
	for a := range actions {
		state = rf(state, a)
	}
	return state
}

// ReducerBuilder is an immutable reducer under construction. Every
// HandleAction call returns a new builder; the receiver keeps its handlers.
type ReducerBuilder[S any] struct {
	initialState S
	handlers     HandlerMap[S]
}

// CreateReducer starts a builder. Seed maps are copied in order, so a key in
// a later seed overrides the same key in an earlier one.
func CreateReducer[S any](initialState S, seeds ...map[string]Handler[S]) *ReducerBuilder[S] {
	handlers := newHandlerMap[S]()
	for _, seed := range seeds {
		for typ, h := range seed {
			checkRegistration(typ, h)
			handlers, _ = handlers.with([]string{typ}, h)
		}
	}
	return &ReducerBuilder[S]{
		initialState: initialState,
		handlers:     handlers,
	}
}

func checkRegistration[S any](typ string, h Handler[S]) {
	if typ == "" {
		panic(fmt.Errorf("%w: cannot register a handler under an empty type", ErrMissingType))
	}
	if h == nil {
		panic(fmt.Errorf("%w: %q", ErrNilHandler, typ))
	}
}

// HandleAction returns a new builder where every type selected by sel maps
// to h.
func (b *ReducerBuilder[S]) HandleAction(sel Selector, h Handler[S]) *ReducerBuilder[S] {
	if sel == nil {
		panic(fmt.Errorf("%w: nil selector", ErrMissingType))
	}
	types := sel.ActionTypes()
	for _, typ := range types {
		checkRegistration(typ, h)
	}

	handlers, replaced := b.handlers.with(types, h)
	if len(replaced) > 0 {
		slog.Debug("replacing action handlers", "types", replaced)
	}

	return &ReducerBuilder[S]{
		initialState: b.initialState,
		handlers:     handlers,
	}
}

// HandlePayload registers fn for the creator's type, passing it the typed
// payload instead of the raw action.
func HandlePayload[S any, P any](
	b *ReducerBuilder[S],
	creator PayloadCreator[P],
	fn func(state S, payload P) S,
) *ReducerBuilder[S] {
	if fn == nil {
		panic(fmt.Errorf("%w: %q", ErrNilHandler, creator.ActionType()))
	}
	return b.HandleAction(Type(GetType(creator)), func(state S, action Action) S {
		payload, _ := creator.Match(action)
		return fn(state, payload)
	})
}

func (b *ReducerBuilder[S]) Handlers() HandlerMap[S] {
	return b.handlers
}

func (b *ReducerBuilder[S]) InitialState() S {
	return b.initialState
}

// Reduce runs the handler registered for action.Type. Actions without a
// handler leave the state as is. Panics raised by handlers are not
// recovered.
func (b *ReducerBuilder[S]) Reduce(state S, action Action) S {
	h, ok := b.handlers.Get(action.Type)
	if !ok {
		return state
	}
	return h(state, action)
}

func (b *ReducerBuilder[S]) Func() ReducerFunc[S] {
	return b.Reduce
}
