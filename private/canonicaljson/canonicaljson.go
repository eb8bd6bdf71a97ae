// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package canonicaljson encodes values into a canonical JSON form:
// object keys sorted recursively, minimal separators, UTF-8 with
// non-ASCII preserved. The canonical form is the input to payload
// hashing and size estimation, so any change to it is a breaking
// change for stored payload hashes.
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/zeebo/errs"
)

// Error is the canonicaljson error class.
var Error = errs.Class("canonicaljson")

// Marshal returns the canonical JSON encoding of v.
//
// v is first round-tripped through encoding/json so that struct values,
// json.Number, and typed maps all reduce to the generic tree
// (map[string]interface{}, []interface{}, string, json.Number, bool, nil)
// before being written out with sorted keys.
func Marshal(v interface{}) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var buf bytes.Buffer
	if err := write(&buf, tree); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

// toTree reduces v to the generic JSON tree, keeping numbers as
// json.Number so their textual form survives untouched.
func toTree(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func write(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		writeString(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := write(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return Error.New("unsupported value %T", v)
	}
	return nil
}

// writeString writes s as a JSON string without escaping non-ASCII
// characters. Only the characters JSON requires to be escaped are.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u`)
				buf.WriteString(padHex(uint32(r)))
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func padHex(r uint32) string {
	h := strconv.FormatUint(uint64(r), 16)
	for len(h) < 4 {
		h = "0" + h
	}
	return h
}
