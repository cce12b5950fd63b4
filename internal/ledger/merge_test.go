package ledger

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func historyOf(item TrackedItem) map[string]string {
	out := make(map[string]string, len(item.PriceHistory))
	for _, p := range item.PriceHistory {
		out[p.Date] = p.Price.String()
	}
	return out
}

func TestMergeInsertsWithDefaultThreshold(t *testing.T) {
	l, _ := newTestLedger(10)

	report, err := l.Merge([]ImportItem{{Article: "42", Name: "Lamp", CurrentPrice: ptr("15.5")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, report.Inserted)
	assert.Empty(t, report.Rejected)

	item, ok := l.Get("42")
	require.True(t, ok)
	assert.True(t, item.NotificationThreshold.Equal(DefaultThreshold))
	assert.True(t, item.InitialPrice.Equal(d("15.5")))
	assert.Nil(t, item.LastNotifiedPrice)
	assert.Equal(t, map[string]string{"2026-03-01": "15.5"}, historyOf(item))
}

func TestMergeExistingHistoryWins(t *testing.T) {
	l, clock := newTestLedger(10)
	_, err := l.Add(NewItem{Article: "7", Price: d("100")})
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	l.UpdatePrice("7", d("95"))

	report, err := l.Merge([]ImportItem{{
		Article:      "7",
		InitialPrice: ptr("120"),
		CurrentPrice: ptr("95"),
		PriceHistory: []PricePoint{
			{Price: d("120"), Date: "2026-02-27"},
			{Price: d("111"), Date: "2026-03-01"},
			{Price: d("94"), Date: "2026-03-03"},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, report.Merged)

	item, _ := l.Get("7")
	assert.Equal(t, map[string]string{
		"2026-02-27": "120",
		"2026-03-01": "100",
		"2026-03-02": "95",
		"2026-03-03": "94",
	}, historyOf(item))
	assert.True(t, item.InitialPrice.Equal(d("100")), "initial keeps the lower value")
}

func TestMergeLowersInitialPrice(t *testing.T) {
	l, _ := newTestLedger(10)
	_, err := l.Add(NewItem{Article: "7", Price: d("100")})
	require.NoError(t, err)

	l.Merge([]ImportItem{{Article: "7", InitialPrice: ptr("80")}})

	item, _ := l.Get("7")
	assert.True(t, item.InitialPrice.Equal(d("80")))
}

func TestMergeDoesNotEvaluateDrops(t *testing.T) {
	l, _ := newTestLedger(10)
	_, err := l.Add(NewItem{Article: "7", Price: d("100")})
	require.NoError(t, err)

	l.Merge([]ImportItem{{Article: "7", CurrentPrice: ptr("50")}})

	item, _ := l.Get("7")
	assert.True(t, item.CurrentPrice.Equal(d("50")))
	assert.True(t, item.LastNotifiedPrice.Equal(d("100")))
}

func TestReimportingExportIsIdempotent(t *testing.T) {
	l, clock := newTestLedger(10)
	for _, a := range []string{"1", "2", "3"} {
		_, err := l.Add(NewItem{Article: a, Name: "Item " + a, Price: d("10")})
		require.NoError(t, err)
	}
	clock.Advance(24 * time.Hour)
	l.UpdatePrice("2", d("8.40"))
	require.NoError(t, l.SetThreshold("3", d("1.5")))

	before := l.Items()
	data, err := EncodeExport(before, true)
	require.NoError(t, err)

	decoded, err := DecodeImport(data)
	require.NoError(t, err)
	version := l.Version()

	report, err := l.Merge(decoded)
	require.NoError(t, err)
	assert.Empty(t, report.Inserted)
	assert.Empty(t, report.Merged)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, report.Unchanged)
	assert.Equal(t, version, l.Version())

	after := l.Items()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, historyOf(before[i]), historyOf(after[i]))
		assert.True(t, before[i].CurrentPrice.Equal(after[i].CurrentPrice))
		assert.True(t, before[i].NotificationThreshold.Equal(after[i].NotificationThreshold))
	}
}

func TestMergeDisjointLedgersCommute(t *testing.T) {
	added := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	a := ImportItem{Article: "100", CurrentPrice: ptr("5"), AddedDate: &added,
		PriceHistory: []PricePoint{{Price: d("6"), Date: "2026-02-01"}, {Price: d("5"), Date: "2026-02-02"}}}
	b := ImportItem{Article: "200", CurrentPrice: ptr("9"), AddedDate: &added,
		PriceHistory: []PricePoint{{Price: d("9"), Date: "2026-02-03"}}}

	left, _ := newTestLedger(10)
	left.Merge([]ImportItem{a})
	left.Merge([]ImportItem{b})

	right, _ := newTestLedger(10)
	right.Merge([]ImportItem{b})
	right.Merge([]ImportItem{a})

	summary := func(l *Ledger) map[string]map[string]string {
		out := make(map[string]map[string]string)
		for _, it := range l.Items() {
			out[it.Article] = historyOf(it)
		}
		return out
	}
	assert.Equal(t, summary(left), summary(right))
}

func TestMergeRejectsInsertsPastCapacity(t *testing.T) {
	l, _ := newTestLedger(2)
	_, err := l.Add(NewItem{Article: "1", Price: d("1")})
	require.NoError(t, err)

	report, err := l.Merge([]ImportItem{
		{Article: "2", CurrentPrice: ptr("2")},
		{Article: "3", CurrentPrice: ptr("3")},
		{Article: "4", CurrentPrice: ptr("4")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"2"}, report.Inserted)
	require.Len(t, report.Rejected, 2)
	rejected := []string{report.Rejected[0].Article, report.Rejected[1].Article}
	sort.Strings(rejected)
	assert.Equal(t, []string{"3", "4"}, rejected)
	for _, r := range report.Rejected {
		assert.True(t, errors.Is(r.Err, ErrCapacityExceeded))
	}
	assert.Equal(t, 2, l.Len())
}

func TestMergeUpdatesExistingEvenWhenFull(t *testing.T) {
	l, _ := newTestLedger(1)
	_, err := l.Add(NewItem{Article: "1", Price: d("10")})
	require.NoError(t, err)

	report, err := l.Merge([]ImportItem{{Article: "1", CurrentPrice: ptr("9")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, report.Merged)
	assert.Empty(t, report.Rejected)
}

func TestMergeCollapsesDuplicateNewArticles(t *testing.T) {
	l, _ := newTestLedger(10)

	report, err := l.Merge([]ImportItem{
		{Article: "5", CurrentPrice: ptr("10"), PriceHistory: []PricePoint{{Price: d("10"), Date: "2026-01-01"}}},
		{Article: "5", CurrentPrice: ptr("10"), PriceHistory: []PricePoint{{Price: d("12"), Date: "2025-12-31"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, report.Inserted)

	item, _ := l.Get("5")
	assert.Equal(t, map[string]string{"2025-12-31": "12", "2026-01-01": "10"}, historyOf(item))
}

func TestMergeRejectsBatchWithUnbuildableRecord(t *testing.T) {
	l, _ := newTestLedger(10)
	l.Merge([]ImportItem{{Article: "1", CurrentPrice: ptr("10")}})
	version := l.Version()

	report, err := l.Merge([]ImportItem{
		{Article: "1", CurrentPrice: ptr("8")},
		{Article: "111", Name: "Lamp", CurrentPrice: ptr("15")},
		{Article: "9", Name: "Ghost"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedImport))
	assert.Contains(t, err.Error(), ErrMissingPrice.Error())

	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	assert.Equal(t, 2, importErr.Parsed)
	assert.Equal(t, 3, importErr.Total)

	assert.Empty(t, report.Inserted)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, version, l.Version())
	item, _ := l.Get("1")
	assert.True(t, item.CurrentPrice.Equal(d("10")))
}

func TestDecodeImportAcceptsNumericArticleAndTimestamps(t *testing.T) {
	payload := []byte(`[
		{"article": 12345, "name": "Mug", "currentPrice": "10.50",
		 "priceHistory": [{"price": 11, "date": "2026-03-01T22:00:00-03:00"}]}
	]`)

	items, err := DecodeImport(payload)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "12345", items[0].Article)
	assert.True(t, items[0].CurrentPrice.Equal(d("10.5")))
	assert.Equal(t, "2026-03-02", items[0].PriceHistory[0].Date)
	assert.Nil(t, items[0].NotificationThreshold)
}

func TestDecodeImportRejectsWholePayload(t *testing.T) {
	payload := []byte(`[
		{"article": "1", "currentPrice": 10},
		{"article": "abc", "currentPrice": 10},
		{"article": "3", "currentPrice": -1}
	]`)

	items, err := DecodeImport(payload)
	assert.Nil(t, items)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedImport))

	var importErr *ImportError
	require.True(t, errors.As(err, &importErr))
	assert.Equal(t, 1, importErr.Parsed)
	assert.Equal(t, 3, importErr.Total)
	assert.Len(t, importErr.Problems, 2)
}

func TestDecodeImportRejectsNonArray(t *testing.T) {
	for _, payload := range []string{`{"article":"1"}`, `not json`, ``} {
		_, err := DecodeImport([]byte(payload))
		var importErr *ImportError
		require.True(t, errors.As(err, &importErr), payload)
		assert.Equal(t, 0, importErr.Parsed)
	}
}

func TestDecodeImportRejectsBadHistory(t *testing.T) {
	_, err := DecodeImport([]byte(`[{"article":"1","priceHistory":[{"price":"5","date":"yesterday"}]}]`))
	assert.True(t, errors.Is(err, ErrMalformedImport))

	_, err = DecodeImport([]byte(`[{"article":"1","priceHistory":[{"price":"0","date":"2026-01-01"}]}]`))
	assert.True(t, errors.Is(err, ErrMalformedImport))
}

func TestEncodeExportEmpty(t *testing.T) {
	data, err := EncodeExport(nil, false)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
