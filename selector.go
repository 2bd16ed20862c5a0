package actionkit

// Selector names the action types a handler is registered under.
//
// Every creator is a Selector for its own type. Type, Types and Creators
// cover the raw-string and multi-type forms.
type Selector interface {
	ActionTypes() []string
}

type Type string

func (t Type) ActionTypes() []string {
	return []string{string(t)}
}

type Types []string

func (ts Types) ActionTypes() []string {
	return append([]string(nil), ts...)
}

// Creators selects the types of several creators, in order.
type Creators []TypeGetter

func (cs Creators) ActionTypes() []string {
	res := make([]string, 0, len(cs))
	for _, c := range cs {
		res = append(res, GetType(c))
	}
	return res
}
