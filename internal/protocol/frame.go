// Package protocol defines the JSON frame schema exchanged between a relay
// server and its remote terminal client.
//
// Every transport message carries exactly one JSON object:
//
//	client → server   {"type":"stdin","data":"<string>"}
//	                  {"type":"resize","data":{"columns":<int>,"rows":<int>}}
//	server → client   {"type":"stdout","data":"<string>"}
//	                  {"type":"stderr","data":"<string>"}
//
// The transport already delivers whole messages, so there is no partial
// frame reassembly here.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Type names the kind of a frame.
type Type string

const (
	TypeStdin  Type = "stdin"
	TypeStdout Type = "stdout"
	TypeStderr Type = "stderr"
	TypeResize Type = "resize"
)

// Valid reports whether t is one of the four known frame types.
func (t Type) Valid() bool {
	switch t {
	case TypeStdin, TypeStdout, TypeStderr, TypeResize:
		return true
	}
	return false
}

// IsData reports whether frames of this type carry a string payload.
func (t Type) IsData() bool {
	return t == TypeStdin || t == TypeStdout || t == TypeStderr
}

// Size is a terminal dimension pair.
type Size struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Columns, s.Rows) }

// Frame is a decoded protocol message.  Data is set for stdin/stdout/stderr
// frames; Size is set for resize frames.
type Frame struct {
	Type Type
	Data string
	Size *Size
}

// Data builds a stdin/stdout/stderr frame.
func Data(t Type, data string) Frame { return Frame{Type: t, Data: data} }

// Resize builds a resize frame.
func Resize(columns, rows int) Frame {
	return Frame{Type: TypeResize, Size: &Size{Columns: columns, Rows: rows}}
}

// MaxDimension is the largest column or row count a resize frame may
// carry; terminal ioctls hold each dimension in 16 bits.
const MaxDimension = 1<<16 - 1

// object parses raw as a JSON object.  Keys are kept exactly as sent:
// encoding/json folds case when filling structs, and "TYPE" is not "type".
func object(raw []byte) (map[string]json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// dimension reads one positive integer field of a resize payload.
func dimension(m map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 || n > MaxDimension {
		return 0, false
	}
	return n, true
}

// Encode serialises f into a single JSON object.  HTML characters are not
// escaped so terminal output survives byte-for-byte.
func Encode(f Frame) ([]byte, error) {
	var data any
	switch {
	case f.Type.IsData():
		data = f.Data
	case f.Type == TypeResize:
		if f.Size == nil {
			return nil, fmt.Errorf("encode %s frame: missing size", f.Type)
		}
		data = f.Size
	default:
		return nil, fmt.Errorf("encode frame: unknown type %q", f.Type)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(struct {
		Type Type `json:"type"`
		Data any  `json:"data"`
	}{f.Type, data}); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses one transport message.  It never fails loudly: anything
// that is not a well-formed frame (unparsable JSON, absent or unknown type,
// data of the wrong shape) yields ok == false and should be ignored.
func Decode(raw []byte) (f Frame, ok bool) {
	m, ok := object(raw)
	if !ok {
		return Frame{}, false
	}
	var typ Type
	if err := json.Unmarshal(m["type"], &typ); err != nil || !typ.Valid() {
		return Frame{}, false
	}
	data := m["data"]
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Frame{}, false
	}

	if typ.IsData() {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Frame{}, false
		}
		return Frame{Type: typ, Data: s}, true
	}

	size, ok := object(data)
	if !ok {
		return Frame{}, false
	}
	cols, ok := dimension(size, "columns")
	if !ok {
		return Frame{}, false
	}
	rows, ok := dimension(size, "rows")
	if !ok {
		return Frame{}, false
	}
	return Resize(cols, rows), true
}

// CompletePrefix returns the length of the longest prefix of b that does
// not end in an incomplete UTF-8 sequence.  Invalid bytes count as
// complete; Encode replaces them with U+FFFD.
func CompletePrefix(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if b[i] < utf8.RuneSelf {
			return n
		}
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return n
			}
			return i
		}
	}
	return n
}
