package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"price-tracker/internal/normalize"
)

// RankedLocations lists selectors that have historically held the displayed price,
// most trusted first.
var RankedLocations = []string{
	`[data-widget="webPrice"]`,
	`[data-widget="webSale"]`,
	`[itemprop="price"]`,
	`[data-testid="price-current"]`,
	`[class*="price-current"]`,
	`[class*="priceCurrent"]`,
	`[class*="current-price"]`,
	`.product-price`,
}

// crossedOut matches containers that render a struck-through original price.
const crossedOut = `s, del, strike, ` +
	`[data-widget="webOldPrice"], ` +
	`[class*="old-price"], [class*="oldPrice"], [class*="price-old"], [class*="price_old"], ` +
	`[class*="crossed"], [class*="strike"], [class*="line-through"], ` +
	`[style*="line-through"]`

func jsonLDPrice(floor decimal.Decimal) func(*goquery.Document) (decimal.Decimal, bool) {
	return func(doc *goquery.Document) (decimal.Decimal, bool) {
		var found decimal.Decimal
		ok := false
		walkJSONLD(doc, func(node map[string]any) bool {
			offers, has := node["offers"]
			if !has {
				return false
			}
			if price, hit := offerPrice(offers, floor); hit {
				found, ok = price, true
				return true
			}
			return false
		})
		return found, ok
	}
}

func offerPrice(offers any, floor decimal.Decimal) (decimal.Decimal, bool) {
	switch v := offers.(type) {
	case map[string]any:
		for _, key := range []string{"price", "lowPrice"} {
			if raw, ok := v[key]; ok {
				if price, hit := valuePrice(raw, floor); hit {
					return price, true
				}
			}
		}
		if spec, ok := v["priceSpecification"]; ok {
			return offerPrice(spec, floor)
		}
	case []any:
		for _, item := range v {
			if price, hit := offerPrice(item, floor); hit {
				return price, true
			}
		}
	}
	return decimal.Decimal{}, false
}

func valuePrice(raw any, floor decimal.Decimal) (decimal.Decimal, bool) {
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	default:
		return decimal.Decimal{}, false
	}
	return acceptText(text, floor)
}

// walkJSONLD visits every object in every JSON-LD block until visit returns true.
func walkJSONLD(doc *goquery.Document, visit func(map[string]any) bool) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dec := json.NewDecoder(bytes.NewReader([]byte(s.Text())))
		dec.UseNumber()
		var root any
		if err := dec.Decode(&root); err != nil {
			return true
		}
		return !walkNode(root, visit)
	})
}

func walkNode(node any, visit func(map[string]any) bool) bool {
	switch v := node.(type) {
	case map[string]any:
		if visit(v) {
			return true
		}
		if graph, ok := v["@graph"]; ok {
			return walkNode(graph, visit)
		}
	case []any:
		for _, item := range v {
			if walkNode(item, visit) {
				return true
			}
		}
	}
	return false
}

func metaPrice(floor decimal.Decimal) func(*goquery.Document) (decimal.Decimal, bool) {
	selectors := []string{
		`meta[itemprop="price"]`,
		`meta[property="product:price:amount"]`,
		`meta[property="og:price:amount"]`,
	}
	return func(doc *goquery.Document) (decimal.Decimal, bool) {
		for _, sel := range selectors {
			var found decimal.Decimal
			ok := false
			doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				content, has := s.Attr("content")
				if !has {
					return true
				}
				found, ok = acceptText(content, floor)
				return !ok
			})
			if ok {
				return found, true
			}
		}
		return decimal.Decimal{}, false
	}
}

func rankedLocationPrice(locations []string, floor decimal.Decimal) func(*goquery.Document) (decimal.Decimal, bool) {
	return func(doc *goquery.Document) (decimal.Decimal, bool) {
		for _, sel := range locations {
			if price, ok := firstPrice(doc.Find(sel), floor); ok {
				return price, true
			}
		}
		return decimal.Decimal{}, false
	}
}

func fallbackScanPrice(floor decimal.Decimal) func(*goquery.Document) (decimal.Decimal, bool) {
	return func(doc *goquery.Document) (decimal.Decimal, bool) {
		marked := doc.Find("body *").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return hasPriceMarker(s)
		})
		return firstPrice(marked, floor)
	}
}

func hasPriceMarker(s *goquery.Selection) bool {
	for _, attr := range []string{"class", "id", "data-widget", "itemprop", "data-testid"} {
		if v, ok := s.Attr(attr); ok && strings.Contains(strings.ToLower(v), "price") {
			return true
		}
	}
	return false
}

// firstPrice returns the first acceptable value across the selection, skipping
// anything rendered inside a crossed-out container.
func firstPrice(sel *goquery.Selection, floor decimal.Decimal) (decimal.Decimal, bool) {
	var found decimal.Decimal
	ok := false
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Closest(crossedOut).Length() > 0 {
			return true
		}
		found, ok = candidatePrice(s, floor)
		return !ok
	})
	return found, ok
}

func candidatePrice(s *goquery.Selection, floor decimal.Decimal) (decimal.Decimal, bool) {
	if content, has := s.Attr("content"); has {
		if price, ok := acceptText(content, floor); ok {
			return price, true
		}
	}

	clean := s.Clone()
	clean.Find(crossedOut).Remove()

	leaves := clean.Find("*").FilterFunction(func(_ int, n *goquery.Selection) bool {
		return n.Children().Length() == 0
	})
	if clean.Children().Length() == 0 {
		leaves = clean
	}

	var found decimal.Decimal
	ok := false
	leaves.EachWithBreak(func(_ int, n *goquery.Selection) bool {
		found, ok = acceptText(n.Text(), floor)
		return !ok
	})
	if ok {
		return found, true
	}
	// "1 299 <small>₽</small>": the number lives in the parent's own text.
	return acceptText(clean.Text(), floor)
}

// acceptText normalizes text and enforces the exclusive floor. Percentages are
// discount badges, never prices.
func acceptText(text string, floor decimal.Decimal) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, "%") {
		return decimal.Decimal{}, false
	}
	price, err := normalize.Normalize(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !price.GreaterThan(floor) {
		return decimal.Decimal{}, false
	}
	return price, true
}

func (k Kind) String() string { return string(k) }

// Describe renders the strategy for logs and the settings command.
func (s Strategy) Describe() string {
	return fmt.Sprintf("%s/%s", s.Kind, s.Name)
}
