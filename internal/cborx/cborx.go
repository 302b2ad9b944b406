// Package cborx holds the CBOR modes shared by the protocol types.
//
// Protocol structs are encoded with fields in declaration order. Every map
// that is part of the protocol is written by hand in ascending key order, so
// Go map iteration order never leaks into the wire format.
package cborx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const (
	MajorUint  byte = 0
	MajorBytes byte = 2
	MajorText  byte = 3
	MajorArray byte = 4
	MajorMap   byte = 5
	MajorTag   byte = 6
)

// Null is the encoding of CBOR null.
var Null = []byte{0xf6}

var (
	encMode       cbor.EncMode
	canonicalMode cbor.EncMode
	decMode       cbor.DecMode
	valueMode     cbor.DecMode
)

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{}).EncMode(); err != nil {
		panic(err)
	}
	if canonicalMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	strict := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		MaxArrayElements:  1 << 20,
		MaxMapPairs:       1 << 20,
	}
	if decMode, err = strict.DecMode(); err != nil {
		panic(err)
	}
	values := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}
	if valueMode, err = values.DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes v keeping struct fields in declaration order.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// MarshalCanonical encodes v with core deterministic encoding.
func MarshalCanonical(v interface{}) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

// Unmarshal decodes exactly one data item, rejecting duplicate map keys and
// unknown struct fields.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// UnmarshalValue decodes into generic Go values with string-keyed maps.
func UnmarshalValue(data []byte, v interface{}) error {
	return valueMode.Unmarshal(data, v)
}

// Valid reports whether data is exactly one well-formed data item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}

// AppendHead appends the head of a data item of the given major type.
func AppendHead(buf []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(buf, m|byte(n))
	case n <= 0xff:
		return append(buf, m|24, byte(n))
	case n <= 0xffff:
		return binary.BigEndian.AppendUint16(append(buf, m|25), uint16(n))
	case n <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(buf, m|26), uint32(n))
	default:
		return binary.BigEndian.AppendUint64(append(buf, m|27), n)
	}
}

// ReadHead parses the head of the data item at the start of data and returns
// its major type, argument and head length. Indefinite lengths are rejected.
func ReadHead(data []byte) (major byte, n uint64, size int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, errors.New("cbor: empty input")
	}
	major = data[0] >> 5
	info := data[0] & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), 1, nil
	case info == 24:
		size = 2
	case info == 25:
		size = 3
	case info == 26:
		size = 5
	case info == 27:
		size = 9
	default:
		return 0, 0, 0, fmt.Errorf("cbor: unsupported additional information %d", info)
	}
	if len(data) < size {
		return 0, 0, 0, errors.New("cbor: truncated head")
	}
	switch size {
	case 2:
		n = uint64(data[1])
	case 3:
		n = uint64(binary.BigEndian.Uint16(data[1:3]))
	case 5:
		n = uint64(binary.BigEndian.Uint32(data[1:5]))
	case 9:
		n = binary.BigEndian.Uint64(data[1:9])
	}
	return major, n, size, nil
}

// MapWriter writes a definite-length map whose entries are supplied by the
// caller in the intended order.
type MapWriter struct {
	buf []byte
	err error
}

func NewMapWriter(n int) *MapWriter {
	return &MapWriter{buf: AppendHead(nil, MajorMap, uint64(n))}
}

func (w *MapWriter) Entry(key, value interface{}) {
	if w.err != nil {
		return
	}
	k, err := Marshal(key)
	if err != nil {
		w.err = err
		return
	}
	v, err := Marshal(value)
	if err != nil {
		w.err = err
		return
	}
	w.buf = append(append(w.buf, k...), v...)
}

func (w *MapWriter) Bytes() ([]byte, error) {
	return w.buf, w.err
}

// ReadMap calls fn for every entry of the definite-length map in data, in
// encoded order.
func ReadMap(data []byte, fn func(key, value cbor.RawMessage) error) error {
	major, n, size, err := ReadHead(data)
	if err != nil {
		return err
	}
	if major != MajorMap {
		return fmt.Errorf("cbor: expected map, got major type %d", major)
	}
	rest := data[size:]
	if n > uint64(len(rest)) {
		return fmt.Errorf("cbor: map of %d entries exceeds input", n)
	}
	dec := decMode.NewDecoder(bytes.NewReader(rest))
	for i := uint64(0); i < n; i++ {
		var key, value cbor.RawMessage
		if err := dec.Decode(&key); err != nil {
			return err
		}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if dec.NumBytesRead() != len(rest) {
		return errors.New("cbor: trailing bytes after map")
	}
	return nil
}
