// Package normalize turns locale-formatted price text into decimal values.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoNumericContent indicates the text carried no usable positive number.
var ErrNoNumericContent = errors.New("normalize: no numeric content")

// Normalize parses text such as "1 234,56 ₽" or "1,234.56" into a canonical decimal.
//
// Everything except digits, '.' and ',' is discarded. The separator whose last
// occurrence comes later is the decimal point; the other one is grouping and is
// removed. The result must be strictly positive.
func Normalize(text string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, text)
	// A trailing separator ("89,50 р.") never introduces a fraction.
	cleaned = strings.TrimRight(cleaned, ".,")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNoNumericContent, text)
	}

	canonical := canonicalize(cleaned)
	if canonical == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNoNumericContent, text)
	}

	value, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNoNumericContent, text)
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not positive", ErrNoNumericContent, text)
	}
	return value, nil
}

func canonicalize(s string) string {
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	var decimalSep, groupSep byte
	switch {
	case lastComma < 0 && lastDot < 0:
		return s
	case lastComma > lastDot:
		decimalSep, groupSep = ',', '.'
	default:
		decimalSep, groupSep = '.', ','
	}

	s = strings.ReplaceAll(s, string(groupSep), "")
	cut := strings.LastIndexByte(s, decimalSep)
	intPart := strings.ReplaceAll(s[:cut], string(decimalSep), "")
	fracPart := s[cut+1:]

	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
