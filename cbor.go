package actionkit

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

func CBORMarshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func CBORUnmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

var (
	ErrUnknownType   = errors.New("actionkit: unknown action type")
	ErrDuplicateType = errors.New("actionkit: duplicate action type")
)

// RawAction is an encoded action whose payload and meta are not decoded yet.
type RawAction struct {
	Type    string          `cbor:"1,keyasint"`
	Payload cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	Meta    cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Decoder turns a RawAction of one type back into an Action with typed
// payload and meta. CheckAction reports actions DecodeAction could not
// reproduce, i.e. payload or meta of another Go type.
type Decoder interface {
	TypeGetter
	DecodeAction(raw RawAction) (Action, error)
	CheckAction(a Action) error
}

func MarshalAction(a Action) ([]byte, error) {
	if a.Type == "" {
		return nil, ErrMissingType
	}
	return CBORMarshal(&a)
}

func UnmarshalRawAction(data []byte) (RawAction, error) {
	var raw RawAction
	if err := CBORUnmarshal(data, &raw); err != nil {
		return raw, err
	}
	if raw.Type == "" {
		return raw, ErrMissingType
	}
	return raw, nil
}

func decodeTyped[P any, M any](typ string, raw RawAction) (Action, error) {
	if raw.Type != typ {
		return Action{}, fmt.Errorf("%w: decoder for %q got %q", ErrUnknownType, typ, raw.Type)
	}
	a := Action{Type: typ}
	if len(raw.Payload) > 0 {
		var p P
		if err := CBORUnmarshal(raw.Payload, &p); err != nil {
			return Action{}, fmt.Errorf("decode payload of %q: %w", typ, err)
		}
		a.Payload = p
	}
	if len(raw.Meta) > 0 {
		var m M
		if err := CBORUnmarshal(raw.Meta, &m); err != nil {
			return Action{}, fmt.Errorf("decode meta of %q: %w", typ, err)
		}
		a.Meta = m
	}
	return a, nil
}

// Codec encodes actions and decodes them back using the decoder registered
// for their type.
type Codec struct {
	decoders map[string]Decoder
}

func NewCodec(decoders ...Decoder) (*Codec, error) {
	c := &Codec{decoders: make(map[string]Decoder, len(decoders))}
	for _, d := range decoders {
		typ, err := LookupType(d)
		if err != nil {
			return nil, err
		}
		if _, exists := c.decoders[typ]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateType, typ)
		}
		c.decoders[typ] = d
	}
	return c, nil
}

func (c *Codec) Encode(a Action) ([]byte, error) {
	d, ok := c.decoders[a.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	if err := d.CheckAction(a); err != nil {
		return nil, err
	}
	return MarshalAction(a)
}

func (c *Codec) Decode(data []byte) (Action, error) {
	raw, err := UnmarshalRawAction(data)
	if err != nil {
		return Action{}, err
	}
	d, ok := c.decoders[raw.Type]
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	return d.DecodeAction(raw)
}

func (c *Codec) Types() []string {
	return slices.Sorted(maps.Keys(c.decoders))
}

func (c *Codec) Has(typ string) bool {
	_, ok := c.decoders[typ]
	return ok
}
