package actionkit

import (
	"errors"
	"fmt"
	"reflect"
)

// Action is a single dispatched event. Type is the only field the reducer
// looks at; Payload and Meta are opaque to it and nil when absent.
type Action struct {
	Type    string `cbor:"1,keyasint"`
	Payload any    `cbor:"2,keyasint,omitempty"`
	Meta    any    `cbor:"3,keyasint,omitempty"`
}

var (
	ErrMissingType = errors.New("actionkit: missing action type")
	ErrNilMapper   = errors.New("actionkit: nil payload mapper")
	ErrPayloadType = errors.New("actionkit: unexpected payload type")
)

// TypeGetter is implemented by everything that is bound to an action type
// without having to build an action first.
type TypeGetter interface {
	ActionType() string
}

// PayloadCreator is a creator that can narrow an action to its payload.
type PayloadCreator[P any] interface {
	TypeGetter
	Match(a Action) (P, bool)
}

type ActionCreator[P any, M any] struct {
	typ string
}

// CreateAction returns a creator whose actions carry the payload and meta
// exactly as passed.
func CreateAction[P any, M any](typ string) *ActionCreator[P, M] {
	if typ == "" {
		panic(fmt.Errorf("%w: empty type passed to CreateAction", ErrMissingType))
	}
	return &ActionCreator[P, M]{typ: typ}
}

func (c *ActionCreator[P, M]) ActionType() string {
	if c == nil {
		return ""
	}
	return c.typ
}

func (c *ActionCreator[P, M]) ActionTypes() []string {
	return []string{GetType(c)}
}

func (c *ActionCreator[P, M]) New(payload P) Action {
	return Action{Type: c.typ, Payload: payload}
}

func (c *ActionCreator[P, M]) NewWithMeta(payload P, meta M) Action {
	return Action{Type: c.typ, Payload: payload, Meta: meta}
}

// Empty builds an action with neither payload nor meta.
func (c *ActionCreator[P, M]) Empty() Action {
	return Action{Type: c.typ}
}

func (c *ActionCreator[P, M]) Match(a Action) (P, bool) {
	return matchField[P](c.typ, a, a.Payload, "payload")
}

func (c *ActionCreator[P, M]) MetaOf(a Action) (M, bool) {
	return matchField[M](c.typ, a, a.Meta, "meta")
}

func (c *ActionCreator[P, M]) DecodeAction(raw RawAction) (Action, error) {
	return decodeTyped[P, M](c.typ, raw)
}

func (c *ActionCreator[P, M]) CheckAction(a Action) error {
	return checkTyped[P, M](c.typ, a)
}

// MappedActionCreator computes payload and meta from a single call argument.
type MappedActionCreator[A any, P any, M any] struct {
	typ     string
	payload func(A) P
	meta    func(A) M
}

// CreateMappedAction returns a creator that runs payloadFn (and metaFn, if
// not nil) over the argument of New. A nil metaFn leaves meta absent. A nil
// payloadFn passes the argument through as the payload, which requires A and
// P to be the same type.
func CreateMappedAction[A any, P any, M any](
	typ string,
	payloadFn func(A) P,
	metaFn func(A) M,
) *MappedActionCreator[A, P, M] {
	if typ == "" {
		panic(fmt.Errorf("%w: empty type passed to CreateMappedAction", ErrMissingType))
	}
	if payloadFn == nil {
		if reflect.TypeFor[A]() != reflect.TypeFor[P]() {
			panic(fmt.Errorf("%w: %q maps %v to %v", ErrNilMapper, typ,
				reflect.TypeFor[A](), reflect.TypeFor[P]()))
		}
		payloadFn = func(arg A) P {
			p, _ := any(arg).(P)
			return p
		}
	}
	return &MappedActionCreator[A, P, M]{
		typ:     typ,
		payload: payloadFn,
		meta:    metaFn,
	}
}

func (c *MappedActionCreator[A, P, M]) ActionType() string {
	if c == nil {
		return ""
	}
	return c.typ
}

func (c *MappedActionCreator[A, P, M]) ActionTypes() []string {
	return []string{GetType(c)}
}

func (c *MappedActionCreator[A, P, M]) New(arg A) Action {
	a := Action{Type: c.typ, Payload: c.payload(arg)}
	if c.meta != nil {
		a.Meta = c.meta(arg)
	}
	return a
}

func (c *MappedActionCreator[A, P, M]) Match(a Action) (P, bool) {
	return matchField[P](c.typ, a, a.Payload, "payload")
}

func (c *MappedActionCreator[A, P, M]) MetaOf(a Action) (M, bool) {
	return matchField[M](c.typ, a, a.Meta, "meta")
}

func (c *MappedActionCreator[A, P, M]) DecodeAction(raw RawAction) (Action, error) {
	return decodeTyped[P, M](c.typ, raw)
}

func (c *MappedActionCreator[A, P, M]) CheckAction(a Action) error {
	return checkTyped[P, M](c.typ, a)
}

func matchField[T any](typ string, a Action, field any, name string) (T, bool) {
	var zero T
	if a.Type != typ {
		return zero, false
	}
	v, err := fieldAs[T](typ, field, name)
	if err != nil {
		panic(err)
	}
	return v, true
}

// fieldAs asserts a payload or meta value to T. nil is the zero T.
func fieldAs[T any](typ string, field any, name string) (T, error) {
	var zero T
	if field == nil {
		return zero, nil
	}
	v, ok := field.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s of %q is %T, want %v",
			ErrPayloadType, name, typ, field, reflect.TypeFor[T]())
	}
	return v, nil
}

func checkTyped[P any, M any](typ string, a Action) error {
	if a.Type != typ {
		return fmt.Errorf("%w: checker for %q got %q", ErrUnknownType, typ, a.Type)
	}
	if _, err := fieldAs[P](typ, a.Payload, "payload"); err != nil {
		return err
	}
	_, err := fieldAs[M](typ, a.Meta, "meta")
	return err
}

// LookupType returns the action type v was created with.
func LookupType(v any) (string, error) {
	tg, ok := v.(TypeGetter)
	if !ok {
		return "", fmt.Errorf("%w: %T is not an action creator", ErrMissingType, v)
	}
	typ := tg.ActionType()
	if typ == "" {
		return "", fmt.Errorf("%w: %T carries no type", ErrMissingType, v)
	}
	return typ, nil
}

// GetType is LookupType for call sites where a non-creator is a bug.
func GetType(v any) string {
	typ, err := LookupType(v)
	if err != nil {
		panic(err)
	}
	return typ
}
