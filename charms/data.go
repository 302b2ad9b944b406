package charms

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/RiemaLabs/charms-indexer/internal/cborx"
)

// Data is an opaque structured value held as one deterministically encoded
// CBOR item. The zero value is empty, which encodes as CBOR null.
type Data struct {
	raw []byte
}

// NewData encodes v. A nil v gives empty Data.
func NewData(v interface{}) (Data, error) {
	if v == nil {
		return Data{}, nil
	}
	raw, err := cborx.MarshalCanonical(v)
	if err != nil {
		return Data{}, err
	}
	return dataFromRaw(raw), nil
}

// MustData is NewData for values known to be encodable.
func MustData(v interface{}) Data {
	d, err := NewData(v)
	if err != nil {
		panic(err)
	}
	return d
}

// DataFromBytes wraps an already encoded item.
func DataFromBytes(raw []byte) (Data, error) {
	if err := cborx.Valid(raw); err != nil {
		return Data{}, err
	}
	return dataFromRaw(append([]byte(nil), raw...)), nil
}

func dataFromRaw(raw []byte) Data {
	if bytes.Equal(raw, cborx.Null) {
		return Data{}
	}
	return Data{raw: raw}
}

func (d Data) IsEmpty() bool {
	return len(d.raw) == 0
}

// Bytes returns the encoded item.
func (d Data) Bytes() []byte {
	if d.IsEmpty() {
		return append([]byte(nil), cborx.Null...)
	}
	return append([]byte(nil), d.raw...)
}

// Decode unmarshals the value into v.
func (d Data) Decode(v interface{}) error {
	return cborx.Unmarshal(d.Bytes(), v)
}

// Value returns the content as generic Go values.
func (d Data) Value() (interface{}, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	var v interface{}
	if err := cborx.UnmarshalValue(d.raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (d Data) Equal(o Data) bool {
	return bytes.Equal(d.raw, o.raw)
}

func (d Data) Compare(o Data) int {
	return bytes.Compare(d.Bytes(), o.Bytes())
}

func (d Data) String() string {
	v, err := d.Value()
	if err != nil {
		return fmt.Sprintf("%x", d.Bytes())
	}
	return fmt.Sprintf("%v", v)
}

func (d Data) MarshalCBOR() ([]byte, error) {
	return d.Bytes(), nil
}

func (d *Data) UnmarshalCBOR(data []byte) error {
	if err := cborx.Valid(data); err != nil {
		return err
	}
	*d = dataFromRaw(append([]byte(nil), data...))
	return nil
}

func (d Data) MarshalJSON() ([]byte, error) {
	v, err := d.Value()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (d *Data) UnmarshalJSON(b []byte) error {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	nd, err := NewData(normalizeJSON(v))
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

func (d Data) MarshalYAML() (interface{}, error) {
	return d.Value()
}

func (d *Data) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	nd, err := NewData(v)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

// normalizeJSON turns json.Number into integers where possible so amounts keep
// their integer encoding.
func normalizeJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		var u uint64
		if _, err := fmt.Sscan(t.String(), &u); err == nil {
			return u
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeJSON(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeJSON(e)
		}
		return t
	}
	return v
}
