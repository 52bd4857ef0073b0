package directive

import (
	"strings"
)

// ParseDict parses the key/value arguments of ENV, ARG and LABEL.
//
// When the text contains "=", every word of the form k=v becomes a pair;
// a word without "=" continues the previous value. Otherwise the text is
// the legacy "KEY value" form and splits on the first space.
//
// Example:
//
//	ParseDict(`A=1 "B C"="two words"`) // {"A": "1", "B C": "two words"}
//	ParseDict(`PATH /usr/bin`)         // {"PATH": "/usr/bin"}
func ParseDict(text string) (map[string]string, error) {
	values := make(map[string]string)
	text = strings.TrimSpace(text)
	if text == "" {
		return values, nil
	}

	if !strings.Contains(text, "=") {
		key, value, _ := strings.Cut(text, " ")
		values[trimQuotes(key)] = trimQuotes(strings.TrimSpace(value))
		return values, nil
	}

	words, err := Tokenize(text)
	if err != nil {
		return nil, err
	}

	var last string
	for _, word := range words {
		key, value, ok := strings.Cut(word, "=")
		if !ok || key == "" {
			if last != "" {
				values[last] = values[last] + " " + word
			}
			continue
		}
		key = trimQuotes(key)
		values[key] = trimQuotes(value)
		last = key
	}
	return values, nil
}

func trimQuotes(s string) string {
	s = strings.ReplaceAll(s, `\ `, " ")
	return strings.Trim(strings.TrimSpace(s), `"\`)
}
