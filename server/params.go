package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/storage"
)

// productParams are the validated query parameters of the products endpoint.
type productParams struct {
	Query    string `validate:"required,min=1,max=100"`
	Page     int    `validate:"min=1"`
	OrderBy  string `validate:"omitempty,oneof=price -price price_per_unit -price_per_unit unit_measurement -unit_measurement"`
	UnitType string `validate:"omitempty,oneof=KG L M M2 EACH HUNDRED_SHEETS"`

	PriceMin *float64
	PriceMax *float64
	UnitMin  *float64
	UnitMax  *float64
}

func parseProductParams(c *fiber.Ctx, validate *validator.Validate) (productParams, error) {
	params := productParams{
		Query:    strings.TrimSpace(c.Query("query")),
		Page:     c.QueryInt("page", 1),
		OrderBy:  c.Query("order_by", "price"),
		UnitType: c.Query("unit_type"),
	}

	var err error
	if params.PriceMin, params.PriceMax, err = parseRange(c.Query("price_range")); err != nil {
		return params, fmt.Errorf("price_range: %w", err)
	}
	if params.UnitMin, params.UnitMax, err = parseRange(c.Query("unit_measurement_range")); err != nil {
		return params, fmt.Errorf("unit_measurement_range: %w", err)
	}
	if params.UnitType == "" && (params.UnitMin != nil || params.UnitMax != nil) {
		return params, fmt.Errorf("unit_measurement_range requires unit_type")
	}

	if err := validate.Struct(params); err != nil {
		return params, fmt.Errorf("invalid parameters: %w", err)
	}
	return params, nil
}

// parseRange reads a "min,max" pair. Either side may be empty.
func parseRange(raw string) (*float64, *float64, error) {
	if raw == "" {
		return nil, nil, nil
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("expected min,max")
	}

	parse := func(s string) (*float64, error) {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", s)
		}
		if v < 0 {
			return nil, fmt.Errorf("negative bound: %q", s)
		}
		return &v, nil
	}

	min, err := parse(parts[0])
	if err != nil {
		return nil, nil, err
	}
	max, err := parse(parts[1])
	if err != nil {
		return nil, nil, err
	}
	if min != nil && max != nil && *min > *max {
		return nil, nil, fmt.Errorf("min exceeds max")
	}
	return min, max, nil
}

func (p productParams) storageParams(pageSize int) storage.ProductParams {
	return storage.ProductParams{
		Page:     p.Page,
		PageSize: pageSize,
		OrderBy:  p.OrderBy,
		PriceMin: p.PriceMin,
		PriceMax: p.PriceMax,
		UnitType: models.UnitType(p.UnitType),
		UnitMin:  p.UnitMin,
		UnitMax:  p.UnitMax,
	}
}
