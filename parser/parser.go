// Package parser normalizes search queries and vendor unit strings.
package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chavrod/shopwiz/models"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	nonNumericRe = regexp.MustCompile(`[^\d.]`)

	validate = validator.New()
)

// NormalizeQuery reduces a search term to its canonical form: trimmed,
// internal whitespace collapsed, lower-cased. It is the identity key for
// caching, rate-limit markers, and notification channels.
func NormalizeQuery(query string) string {
	return strings.ToLower(whitespaceRe.ReplaceAllString(strings.TrimSpace(query), " "))
}

// conversion maps a vendor unit spelling to its canonical unit and the factor
// that converts a price-per-spelling into a price-per-canonical-unit.
type conversion struct {
	unit   models.UnitType
	factor float64
}

// Vendor spellings are matched case-insensitively with spaces stripped, so
// "100 Sheets" and "100sheets" resolve identically.
var conversions = map[string]conversion{
	"kg":        {models.UnitKG, 1},
	"100g":      {models.UnitKG, 10},
	"g":         {models.UnitKG, 1000},
	"ml":        {models.UnitL, 1000},
	"100ml":     {models.UnitL, 10},
	"l":         {models.UnitL, 1},
	"litre":     {models.UnitL, 1},
	"70cl":      {models.UnitL, 1 / 0.7},
	"75cl":      {models.UnitL, 1 / 0.75},
	"metre":     {models.UnitM, 1},
	"m2":        {models.UnitM2, 1},
	"each":      {models.UnitEach, 1},
	"100sht":    {models.UnitHundredSheets, 1},
	"100sheets": {models.UnitHundredSheets, 1},
}

// longest-first so "100g" wins over "g" when both occur in a label.
var conversionKeys = func() []string {
	keys := make([]string, 0, len(conversions))
	for k := range conversions {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && len(keys[j]) > len(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}()

func lookupUnit(label string) (conversion, bool) {
	label = strings.ReplaceAll(strings.ToLower(label), " ", "")
	for _, key := range conversionKeys {
		if wordMatch(label, key) {
			return conversions[key], true
		}
	}
	return conversion{}, false
}

// wordMatch reports whether key occurs in s on its own, not as part of a
// longer alphanumeric run ("g" must not match inside "kg").
func wordMatch(s, key string) bool {
	for idx := 0; ; {
		i := strings.Index(s[idx:], key)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isAlnum(s[i-1])
		after := i+len(key) == len(s) || !isAlnum(s[i+len(key)])
		if before && after {
			return true
		}
		idx = i + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// UnitData converts a vendor price-per-unit fragment such as "1.20 per kg" or
// "€0.70/100g" into a canonical unit, a price per canonical unit, and the
// measured quantity implied by price / price-per-unit.
//
// Unrecognized labels, missing tokens, and non-positive inputs never produce
// an error; they fall back to one item priced at the total price.
func UnitData(fragment string, price float64) (models.UnitType, float64, float64) {
	var parts []string
	if strings.Contains(fragment, "per") {
		parts = strings.SplitN(fragment, "per", 2)
	} else {
		parts = strings.SplitN(fragment, "/", 2)
	}
	return unitDataFromParts(parts, price)
}

func unitDataFromParts(parts []string, price float64) (models.UnitType, float64, float64) {
	if len(parts) < 2 || price <= 0 {
		return models.UnitEach, price, 1
	}

	rawPPU := nonNumericRe.ReplaceAllString(parts[0], "")
	ppu, err := strconv.ParseFloat(rawPPU, 64)
	if err != nil || ppu <= 0 {
		return models.UnitEach, price, 1
	}

	conv, ok := lookupUnit(parts[1])
	if !ok {
		return models.UnitEach, price, 1
	}

	converted := Round2(ppu * conv.factor)
	if converted <= 0 {
		return models.UnitEach, price, 1
	}
	measurement := Round3(price / converted)
	return conv.unit, converted, measurement
}

// ParsePrice strips currency symbols and whitespace from a vendor price
// string and returns the amount rounded to 2 decimals, or 0 when no numeric
// content is present.
func ParsePrice(text string) float64 {
	cleaned := nonNumericRe.ReplaceAllString(text, "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return Round2(v)
}

// Round2 rounds to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 rounds to 3 decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ValidateProduct ensures a scraped record satisfies the persistence
// constraints. Violating records are dropped before persistence, never
// partially stored.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name")
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("product %q invalid: %w", p.Name, err)
	}
	switch p.UnitType {
	case models.UnitKG, models.UnitL, models.UnitM, models.UnitM2, models.UnitEach, models.UnitHundredSheets:
	default:
		return fmt.Errorf("product %q has unknown unit type %q", p.Name, p.UnitType)
	}
	switch p.ShopName {
	case models.ShopTesco, models.ShopSuperValu, models.ShopAldi:
	default:
		return fmt.Errorf("product %q has unknown shop %q", p.Name, p.ShopName)
	}
	return nil
}
