// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"github.com/shopspring/decimal"
)

// Payload readers. Payloads round-trip through JSON, so numbers arrive
// as float64 and line slices as []interface{}.

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func integer(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// changeValue reads the "new" side of a structured change diff,
// accepting a bare string as well.
func changeValue(change interface{}) string {
	if pair, ok := change.(map[string]interface{}); ok {
		if s, ok := pair["new"].(string); ok {
			return s
		}
		return ""
	}
	if s, ok := change.(string); ok {
		return s
	}
	return ""
}

func amount(data map[string]interface{}, key string) decimal.Decimal {
	s, _ := data[key].(string)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseLineRows converts a payload lines value into read-model rows.
// LineIndex is assigned from the given base.
func parseLineRows(value interface{}, tenantID int64, entryPublicID string, base int) []*JournalLineRow {
	var rows []map[string]interface{}
	switch list := value.(type) {
	case []map[string]interface{}:
		rows = list
	case []interface{}:
		for _, item := range list {
			if row, ok := item.(map[string]interface{}); ok {
				rows = append(rows, row)
			}
		}
	default:
		return nil
	}

	lines := make([]*JournalLineRow, 0, len(rows))
	for i, row := range rows {
		lines = append(lines, &JournalLineRow{
			TenantID:      tenantID,
			EntryPublicID: entryPublicID,
			LineIndex:     base + i,
			AccountCode:   str(row, "account_code"),
			Debit:         amount(row, "debit"),
			Credit:        amount(row, "credit"),
			Memo:          str(row, "memo"),
		})
	}
	return lines
}
