// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package canonicaljson_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerhouse.io/ledgerhouse/private/canonicaljson"
)

func TestMarshalSortsKeysRecursively(t *testing.T) {
	out, err := canonicaljson.Marshal(map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{
			"z": "last",
			"m": []interface{}{map[string]interface{}{"k2": 2, "k1": 1}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, `{"a":{"m":[{"k1":1,"k2":2}],"z":"last"},"b":1}`, string(out))
}

func TestMarshalMinimalSeparators(t *testing.T) {
	out, err := canonicaljson.Marshal(map[string]interface{}{"a": []interface{}{1, 2}, "b": true})
	require.NoError(t, err)
	require.Equal(t, `{"a":[1,2],"b":true}`, string(out))
}

func TestMarshalPreservesNonASCII(t *testing.T) {
	out, err := canonicaljson.Marshal(map[string]interface{}{"memo": "Grüße 中文"})
	require.NoError(t, err)
	require.Equal(t, `{"memo":"Grüße 中文"}`, string(out))
}

func TestMarshalDecimalStringsUntouched(t *testing.T) {
	out, err := canonicaljson.Marshal(map[string]interface{}{"debit": "10000.00"})
	require.NoError(t, err)
	require.Equal(t, `{"debit":"10000.00"}`, string(out))
}

func TestMarshalDeterministic(t *testing.T) {
	in := map[string]interface{}{
		"lines": []interface{}{
			map[string]interface{}{"account": "1000", "debit": "10.50", "credit": "0"},
		},
		"date": "2026-01-17",
	}
	first, err := canonicaljson.Marshal(in)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		again, err := canonicaljson.Marshal(in)
		require.NoError(t, err)
		require.Equal(t, string(first), string(again))
	}
}

func TestMarshalStructReduces(t *testing.T) {
	type header struct {
		Memo     string `json:"memo"`
		Currency string `json:"currency"`
	}
	out, err := canonicaljson.Marshal(header{Memo: "opening", Currency: "EUR"})
	require.NoError(t, err)
	require.Equal(t, `{"currency":"EUR","memo":"opening"}`, string(out))
}
