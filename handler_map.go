package actionkit

import (
	"iter"
	"sync"

	"github.com/google/btree"
)

// Handler computes the next state for an action it was registered for.
type Handler[S any] func(state S, action Action) S

type handlerEntry[S any] struct {
	typ     string
	handler Handler[S]
}

// HandlerMap is a persistent action type -> handler map. The zero value is
// an empty map. Extending a map never changes it; see with.
type HandlerMap[S any] struct {
	tree *btree.BTreeG[handlerEntry[S]]
	// btree.Clone touches the source tree's copy-on-write context.
	cloneMu *sync.Mutex
}

func lessHandlerEntry[S any](a, b handlerEntry[S]) bool {
	return a.typ < b.typ
}

func newHandlerMap[S any]() HandlerMap[S] {
	return HandlerMap[S]{
		tree:    btree.NewG(16, lessHandlerEntry[S]),
		cloneMu: &sync.Mutex{},
	}
}

func (hm HandlerMap[S]) clone() HandlerMap[S] {
	if hm.tree == nil {
		return newHandlerMap[S]()
	}
	hm.cloneMu.Lock()
	t := hm.tree.Clone()
	hm.cloneMu.Unlock()
	return HandlerMap[S]{tree: t, cloneMu: &sync.Mutex{}}
}

// with returns a copy of hm where every type in types maps to h, and the
// types that were already present.
func (hm HandlerMap[S]) with(types []string, h Handler[S]) (HandlerMap[S], []string) {
	res := hm.clone()
	var replaced []string
	for _, typ := range types {
		if _, found := res.tree.ReplaceOrInsert(handlerEntry[S]{typ, h}); found {
			replaced = append(replaced, typ)
		}
	}
	return res, replaced
}

func (hm HandlerMap[S]) Get(typ string) (Handler[S], bool) {
	if hm.tree == nil {
		return nil, false
	}
	e, ok := hm.tree.Get(handlerEntry[S]{typ: typ})
	if !ok {
		return nil, false
	}
	return e.handler, true
}

func (hm HandlerMap[S]) Has(typ string) bool {
	return hm.tree != nil && hm.tree.Has(handlerEntry[S]{typ: typ})
}

func (hm HandlerMap[S]) Len() int {
	if hm.tree == nil {
		return 0
	}
	return hm.tree.Len()
}

// Types returns the registered types in ascending order.
func (hm HandlerMap[S]) Types() []string {
	res := make([]string, 0, hm.Len())
	for typ := range hm.All() {
		res = append(res, typ)
	}
	return res
}

func (hm HandlerMap[S]) All() iter.Seq2[string, Handler[S]] {
	return func(yield func(string, Handler[S]) bool) {
		if hm.tree == nil {
			return
		}
		hm.tree.Ascend(func(e handlerEntry[S]) bool {
			return yield(e.typ, e.handler)
		})
	}
}

// Map copies the handlers into a plain map, suitable as a CreateReducer seed.
func (hm HandlerMap[S]) Map() map[string]Handler[S] {
	res := make(map[string]Handler[S], hm.Len())
	for typ, h := range hm.All() {
		res[typ] = h
	}
	return res
}

// Unknown lists registered types that none of the known creators produce.
func (hm HandlerMap[S]) Unknown(known ...TypeGetter) []string {
	vocabulary := make(map[string]struct{}, len(known))
	for _, k := range known {
		vocabulary[GetType(k)] = struct{}{}
	}
	var res []string
	for typ := range hm.All() {
		if _, ok := vocabulary[typ]; !ok {
			res = append(res, typ)
		}
	}
	return res
}
