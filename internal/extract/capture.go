package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"price-tracker/internal/ledger"
)

var (
	productPathArticle = regexp.MustCompile(`/product/(?:[^/]*-)?(\d+)/?$`)
	digitRun           = regexp.MustCompile(`\d{3,}`)
)

// Capture holds what a product page yields for a new tracked item. Empty Article or
// a zero Price mean the field could not be extracted.
type Capture struct {
	Article string
	Name    string
	URL     string
	Price   decimal.Decimal
}

// Capture extracts article, name, canonical URL and price from a product page.
// Field-level failures leave the field empty; the ledger reports them on add.
func (e *Extractor) Capture(document, pageURL string) (Capture, error) {
	canonical, err := CanonicalURL(pageURL)
	if err != nil {
		return Capture{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return Capture{}, fmt.Errorf("parse document: %w", err)
	}

	out := Capture{
		URL:  canonical,
		Name: ProductName(doc),
	}
	if article, ok := ArticleFromURL(canonical); ok {
		out.Article = article
	} else if article, ok := ArticleFromDocument(doc); ok {
		out.Article = article
	}
	if price, err := e.ExtractDocument(doc); err == nil {
		out.Price = price
	} else {
		e.logger.Warn().Str("url", canonical).Err(err).Msg("capture without price")
	}
	return out, nil
}

// CanonicalURL strips query and fragment from a page location.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", raw)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// ArticleFromURL reads the article from a /product/<slug>-<digits>/ path.
func ArticleFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	m := productPathArticle.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ArticleFromDocument reads the article from the SKU widget or product metadata.
func ArticleFromDocument(doc *goquery.Document) (string, bool) {
	if text := strings.TrimSpace(doc.Find(`[data-widget="webDetailSKU"]`).First().Text()); text != "" {
		if m := digitRun.FindString(text); m != "" {
			return m, true
		}
	}
	if sel := doc.Find(`[itemprop="sku"]`).First(); sel.Length() > 0 {
		value, ok := sel.Attr("content")
		if !ok {
			value = sel.Text()
		}
		if m := digitRun.FindString(value); m != "" {
			return m, true
		}
	}

	var article string
	walkJSONLD(doc, func(node map[string]any) bool {
		for _, key := range []string{"sku", "productID"} {
			if v, ok := node[key]; ok {
				if m := digitRun.FindString(fmt.Sprint(v)); m != "" {
					article = m
					return true
				}
			}
		}
		return false
	})
	return article, article != ""
}

// ProductName returns the best-effort display name; it is never empty.
func ProductName(doc *goquery.Document) string {
	candidates := []string{
		doc.Find(`[data-widget="webProductHeading"] h1`).First().Text(),
		doc.Find("h1").First().Text(),
		doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		doc.Find("title").First().Text(),
	}
	for _, c := range candidates {
		if name := strings.Join(strings.Fields(c), " "); name != "" {
			return name
		}
	}
	return ledger.PlaceholderName
}
