package directive

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ValueKind identifies how an argument was interpreted.
type ValueKind int

const (
	ValueInteger ValueKind = iota
	ValueJSONArray
	ValueBareword
)

// ClassifyValue applies the value typing rules in order of precedence:
//
//  1. an integer is kept verbatim
//  2. a JSON array of strings is joined with single spaces
//  3. anything else is a bareword string
func ClassifyValue(raw string) (string, ValueKind) {
	if _, err := strconv.Atoi(raw); err == nil {
		return raw, ValueInteger
	}

	if strings.HasPrefix(raw, "[") {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return strings.Join(items, " "), ValueJSONArray
		}
	}

	return raw, ValueBareword
}

// TypeValue returns only the typed value of raw.
func TypeValue(raw string) string {
	v, _ := ClassifyValue(raw)
	return v
}
