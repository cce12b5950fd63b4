package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedImport indicates an import payload that was rejected wholesale.
var ErrMalformedImport = errors.New("ledger: malformed import")

// ImportError carries how many records of a rejected payload were parseable.
type ImportError struct {
	Parsed   int
	Total    int
	Problems []string
}

func (e *ImportError) Error() string {
	msg := fmt.Sprintf("%s: %d of %d records parseable", ErrMalformedImport, e.Parsed, e.Total)
	if len(e.Problems) > 0 {
		msg += " (" + strings.Join(e.Problems, "; ") + ")"
	}
	return msg
}

func (e *ImportError) Unwrap() error { return ErrMalformedImport }

// articleID accepts the article as a JSON string or integer.
type articleID string

func (a *articleID) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if bytes.Equal(raw, []byte("null")) {
		*a = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*a = articleID(strings.TrimSpace(s))
		return nil
	}
	*a = articleID(raw)
	return nil
}

type importRecord struct {
	Article               articleID        `json:"article"`
	Name                  string           `json:"name"`
	URL                   string           `json:"url"`
	InitialPrice          *decimal.Decimal `json:"initialPrice"`
	CurrentPrice          *decimal.Decimal `json:"currentPrice"`
	PriceHistory          []PricePoint     `json:"priceHistory"`
	LastNotifiedPrice     *decimal.Decimal `json:"lastNotifiedPrice"`
	NotificationThreshold *decimal.Decimal `json:"notificationThreshold"`
	AddedDate             *time.Time       `json:"addedDate"`
	LastUpdated           *time.Time       `json:"lastUpdated"`
}

// DecodeImport parses a JSON array of tracked item records. Any unusable record
// rejects the whole payload with an *ImportError.
func DecodeImport(data []byte) ([]ImportItem, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &ImportError{Problems: []string{"payload is not a JSON array: " + err.Error()}}
	}

	items := make([]ImportItem, 0, len(raws))
	var problems []string
	for i, raw := range raws {
		item, err := decodeRecord(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		items = append(items, item)
	}
	if len(problems) > 0 {
		return nil, &ImportError{Parsed: len(items), Total: len(raws), Problems: problems}
	}
	return items, nil
}

func decodeRecord(raw json.RawMessage) (ImportItem, error) {
	var rec importRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ImportItem{}, err
	}

	article := string(rec.Article)
	if article == "" {
		return ImportItem{}, errors.New("article missing")
	}
	if strings.IndexFunc(article, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return ImportItem{}, fmt.Errorf("article %q is not numeric", article)
	}

	for _, p := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"initialPrice", rec.InitialPrice},
		{"currentPrice", rec.CurrentPrice},
		{"notificationThreshold", rec.NotificationThreshold},
	} {
		if p.value != nil && !p.value.IsPositive() {
			return ImportItem{}, fmt.Errorf("%s must be positive", p.name)
		}
	}

	history := make([]PricePoint, 0, len(rec.PriceHistory))
	for _, p := range rec.PriceHistory {
		day, err := normalizeDay(p.Date)
		if err != nil {
			return ImportItem{}, err
		}
		if !p.Price.IsPositive() {
			return ImportItem{}, fmt.Errorf("history price on %s must be positive", day)
		}
		history = append(history, PricePoint{Price: p.Price, Date: day})
	}

	return ImportItem{
		Article:               article,
		Name:                  strings.TrimSpace(rec.Name),
		URL:                   rec.URL,
		InitialPrice:          rec.InitialPrice,
		CurrentPrice:          rec.CurrentPrice,
		PriceHistory:          history,
		LastNotifiedPrice:     rec.LastNotifiedPrice,
		NotificationThreshold: rec.NotificationThreshold,
		AddedDate:             rec.AddedDate,
		LastUpdated:           rec.LastUpdated,
	}, nil
}

// normalizeDay accepts a calendar day or a full RFC3339 timestamp.
func normalizeDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err == nil {
		return s, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return dayOf(ts), nil
	}
	return "", fmt.Errorf("history date %q is not a calendar day", s)
}

// EncodeExport renders items as a JSON array accepted by DecodeImport.
func EncodeExport(items []TrackedItem, indent bool) ([]byte, error) {
	if items == nil {
		items = []TrackedItem{}
	}
	if indent {
		return json.MarshalIndent(items, "", "  ")
	}
	return json.Marshal(items)
}
