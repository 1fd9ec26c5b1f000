package shops

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// parsePrice keeps only digits and dots, so "RRP £15.99" reads as 15.99.
func parsePrice(s string) (float64, error) {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	if cleaned == "" {
		return 0, fmt.Errorf("no price in %q", s)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return v, nil
}

// priceAfterPound parses whatever follows the last pound sign.
func priceAfterPound(s string) (float64, error) {
	if i := strings.LastIndex(s, "£"); i >= 0 {
		s = s[i+len("£"):]
	}
	return parsePrice(s)
}

// discountRatio is the fraction saved, rounded to two decimals.
func discountRatio(price, discounted float64) *float64 {
	if price <= 0 {
		return nil
	}
	v := math.Round((price-discounted)/price*100) / 100
	return &v
}

// cleanText collapses the whitespace of a selection's text.
func cleanText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func ptr[T any](v T) *T {
	return &v
}
