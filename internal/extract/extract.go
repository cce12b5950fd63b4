// Package extract pulls a product price out of a retrieved page.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/logging"
)

// ErrPriceNotFound indicates no strategy produced a usable price.
var ErrPriceNotFound = errors.New("extract: price not found")

// Kind tags a strategy variant.
type Kind string

const (
	KindStructuredMetadata Kind = "structured-metadata"
	KindRankedLocation     Kind = "ranked-location"
	KindFallbackScan       Kind = "fallback-scan"
)

// Strategy is one way of locating a price in a parsed document.
type Strategy struct {
	Kind Kind
	Name string
	Find func(doc *goquery.Document) (decimal.Decimal, bool)
}

// Options tune the default strategy list.
type Options struct {
	// PrimaryFloor is the exclusive lower bound for structured and ranked values.
	PrimaryFloor decimal.Decimal
	// FallbackFloor is the exclusive lower bound for the noisy fallback scan.
	FallbackFloor decimal.Decimal
	// Locations overrides the ranked selector list.
	Locations []string
}

// DefaultOptions returns the two-tier floors used in production.
func DefaultOptions() Options {
	return Options{
		PrimaryFloor:  decimal.Zero,
		FallbackFloor: decimal.NewFromInt(1),
		Locations:     RankedLocations,
	}
}

// Extractor tries strategies in order; the first success wins.
type Extractor struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// New builds an extractor over an explicit ordered strategy list.
func New(logger zerolog.Logger, strategies ...Strategy) *Extractor {
	return &Extractor{
		strategies: strategies,
		logger:     logging.Component(logger, "extractor"),
	}
}

// NewDefault builds an extractor with structured, ranked and fallback strategies.
func NewDefault(opts Options, logger zerolog.Logger) *Extractor {
	return New(logger, DefaultStrategies(opts)...)
}

// DefaultStrategies returns the production strategy order.
func DefaultStrategies(opts Options) []Strategy {
	locations := opts.Locations
	if len(locations) == 0 {
		locations = RankedLocations
	}
	return []Strategy{
		{Kind: KindStructuredMetadata, Name: "json-ld", Find: jsonLDPrice(opts.PrimaryFloor)},
		{Kind: KindStructuredMetadata, Name: "meta-price", Find: metaPrice(opts.PrimaryFloor)},
		{Kind: KindRankedLocation, Name: "ranked-locations", Find: rankedLocationPrice(locations, opts.PrimaryFloor)},
		{Kind: KindFallbackScan, Name: "price-markers", Find: fallbackScanPrice(opts.FallbackFloor)},
	}
}

// Strategies exposes the configured order.
func (e *Extractor) Strategies() []Strategy {
	out := make([]Strategy, len(e.strategies))
	copy(out, e.strategies)
	return out
}

// Extract parses document markup and returns the first price found.
func (e *Extractor) Extract(document string) (decimal.Decimal, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse document: %v", ErrPriceNotFound, err)
	}
	return e.ExtractDocument(doc)
}

// ExtractDocument runs the strategy list over an already parsed document.
func (e *Extractor) ExtractDocument(doc *goquery.Document) (decimal.Decimal, error) {
	for _, s := range e.strategies {
		price, ok := s.Find(doc)
		if !ok {
			continue
		}
		e.logger.Debug().Str("strategy", s.Describe()).
			Str("price", price.String()).Msg("price extracted")
		return price, nil
	}
	return decimal.Decimal{}, ErrPriceNotFound
}
