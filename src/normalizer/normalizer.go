// Package normalizer flattens heterogeneous upstream responses into canonical records.
//
// A response is matched against a closed set of shapes in priority order: a bare list,
// an object wrapping the list under one of the known keys (an object-valued "data"
// envelope is searched once), grouped holdings, or nothing at all. Records are then
// coerced field by field through a per-kind alias table. Normalization never fails:
// malformed records still yield a record with zero values and the original under raw.
package normalizer

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/username/brokerbridge/backend/src/models"
	"github.com/username/brokerbridge/backend/src/utils"
)

// Normalize extracts the canonical record list from raw. expectedAccountID is injected
// into records that do not name their account.
func Normalize(raw any, expectedAccountID string, kind models.RecordKind) []models.CanonicalRecord {
	if recs, ok := raw.([]models.CanonicalRecord); ok {
		out := make([]models.CanonicalRecord, len(recs))
		copy(out, recs)
		return out
	}

	generic := toGeneric(raw)
	var items []any
	if kind == models.KindHolding {
		if m, ok := generic.(map[string]any); ok && isHoldingGroup(m) {
			items = []any{m}
		}
	}
	if items == nil {
		items = Unwrap(generic)
	}
	if kind == models.KindHolding {
		items = flattenGroups(items)
	}

	table := tableFor(kind)
	out := make([]models.CanonicalRecord, 0, len(items))
	for _, item := range items {
		out = append(out, coerce(item, expectedAccountID, table))
	}
	return out
}

// Unwrap returns the record list carried by a decoded response, or an empty list.
func Unwrap(raw any) []any {
	return unwrap(toGeneric(raw), 0)
}

func unwrap(v any, depth int) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, key := range wrapperKeys {
			val, ok := t[key]
			if !ok || val == nil {
				continue
			}
			if list, ok := val.([]any); ok {
				return list
			}
			if key == "data" && depth == 0 {
				if inner, ok := val.(map[string]any); ok {
					if list := unwrap(inner, depth+1); len(list) > 0 {
						return list
					}
				}
			}
		}
	}
	return []any{}
}

// NextCursor reads the pagination cursor from a response, if the response carries one.
func NextCursor(raw any) *string {
	m, ok := toGeneric(raw).(map[string]any)
	if !ok {
		return nil
	}
	for _, path := range []string{"next", "pagination.next", "cursor.next", "nextCursor"} {
		if s := text(lookupPath(m, path)); s != "" {
			return &s
		}
	}
	if inner, ok := m["data"].(map[string]any); ok {
		return NextCursor(inner)
	}
	return nil
}

func isHoldingGroup(m map[string]any) bool {
	_, hasPositions := m["positions"].([]any)
	_, hasAccount := m["account"].(map[string]any)
	return hasPositions && hasAccount
}

// flattenGroups expands [{account:{id}, positions:[...]}] into positions tagged with the group's account.
func flattenGroups(items []any) []any {
	grouped := false
	for _, it := range items {
		if m, ok := it.(map[string]any); ok && isHoldingGroup(m) {
			grouped = true
			break
		}
	}
	if !grouped {
		return items
	}

	var out []any
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok || !isHoldingGroup(m) {
			out = append(out, it)
			continue
		}
		accountID := text(lookupPath(m, "account.id"))
		for _, p := range m["positions"].([]any) {
			pos, ok := p.(map[string]any)
			if !ok || accountID == "" || firstString(pos, holdingAliases.accountID) != "" {
				out = append(out, p)
				continue
			}
			tagged := make(map[string]any, len(pos)+1)
			for k, v := range pos {
				tagged[k] = v
			}
			tagged["accountId"] = accountID
			out = append(out, tagged)
		}
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func coerce(item any, expectedAccountID string, table aliasTable) models.CanonicalRecord {
	rec := models.CanonicalRecord{Raw: item}
	m, ok := item.(map[string]any)
	if !ok {
		rec.AccountID = expectedAccountID
		return rec
	}
	if isCanonical(m) {
		rec.Raw = m["raw"]
	}

	if id := firstString(m, table.id); id != "" {
		rec.ID = &id
	}
	rec.AccountID = firstString(m, table.accountID)
	if rec.AccountID == "" {
		rec.AccountID = expectedAccountID
	}
	rec.Symbol = firstSymbol(m, table.symbol)
	rec.Side = strings.ToUpper(firstString(m, table.side))
	rec.Quantity = firstNumber(m, table.quantity)
	rec.Price = firstNumber(m, table.price)
	rec.Amount = firstNumber(m, table.amount)
	rec.Currency = firstCurrency(m, table.currency)
	rec.Fees = firstNumber(m, table.fees)

	if at := firstString(m, table.executedAt); at != "" {
		rec.ExecutedAt = &at
		if ts, ok := utils.ParseTimestamp(at); ok {
			ms := ts.UnixMilli()
			rec.ExecutedAtMs = &ms
		}
	}
	return rec
}

// isCanonical reports whether m is the JSON form of a record this package produced.
func isCanonical(m map[string]any) bool {
	_, hasRaw := m["raw"]
	_, hasAccount := m["accountId"]
	_, hasSide := m["side"]
	return hasRaw && hasAccount && hasSide
}

func lookupPath(m map[string]any, path string) any {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func firstString(m map[string]any, paths []string) string {
	for _, p := range paths {
		if s := text(lookupPath(m, p)); s != "" {
			return s
		}
	}
	return ""
}

// firstNumber takes the first present value and coerces it; an invalid value is 0, not skipped.
func firstNumber(m map[string]any, paths []string) float64 {
	for _, p := range paths {
		if v := lookupPath(m, p); v != nil {
			return Number(v)
		}
	}
	return 0
}

func firstSymbol(m map[string]any, paths []string) string {
	for _, p := range paths {
		if s := nested(lookupPath(m, p), []string{"symbol", "raw_symbol", "ticker"}, 3); s != "" {
			return s
		}
	}
	return ""
}

func firstCurrency(m map[string]any, paths []string) string {
	for _, p := range paths {
		if s := nested(lookupPath(m, p), []string{"code", "currency"}, 2); s != "" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// nested resolves v to a string, descending through objects via keys up to depth levels.
func nested(v any, keys []string, depth int) string {
	if obj, ok := v.(map[string]any); ok {
		if depth == 0 {
			return ""
		}
		for _, k := range keys {
			if s := nested(obj[k], keys, depth-1); s != "" {
				return s
			}
		}
		return ""
	}
	return text(v)
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// Number coerces v to a finite float64. Strings and json.Number are parsed exactly with
// decimal; objects of the form {amount: x} use x. Anything else, including NaN and
// infinities, is 0.
func Number(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		f = parseDecimal(t.String())
	case string:
		f = parseDecimal(t)
	case decimal.Decimal:
		f = t.InexactFloat64()
	case map[string]any:
		if inner, ok := t["amount"]; ok {
			return Number(inner)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseDecimal(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// toGeneric converts raw into the []any / map[string]any form the shape matcher works on.
// Typed values are round-tripped through JSON; numbers are kept as json.Number.
func toGeneric(raw any) any {
	switch t := raw.(type) {
	case nil:
		return nil
	case []any, map[string]any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case json.RawMessage:
		return decode(t)
	case []byte:
		return decode(t)
	case string:
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return decode(b)
}

func decode(b []byte) any {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}
