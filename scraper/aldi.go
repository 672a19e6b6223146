package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/parser"
)

const aldiBaseURL = "https://groceries.aldi.ie"

// Aldi scrapes groceries.aldi.ie search results over plain HTTP with colly;
// the listing markup is served without client-side rendering.
type Aldi struct {
	deps        Deps
	collector   *colly.Collector
	currentPage int
	totalPages  int
	totalItems  int
	perPage     int
	products    []models.Product
	query       string
}

// NewAldi returns a fresh adapter; instances carry per-fetch pagination state.
func NewAldi(deps Deps) *Aldi {
	collector := colly.NewCollector(
		colly.UserAgent(deps.Cfg.UserAgent),
	)
	collector.SetRequestTimeout(deps.Cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	a := &Aldi{
		deps:        deps,
		collector:   collector,
		currentPage: 1,
		perPage:     models.PageSize[models.ShopAldi],
	}

	collector.OnHTML("div#vueSearchSummary", func(e *colly.HTMLElement) {
		a.totalItems, _ = strconv.Atoi(e.Attr("data-totalcount"))
	})
	collector.OnHTML(`[data-qa="search-results"]`, func(e *colly.HTMLElement) {
		if product, ok := a.extractProduct(e); ok {
			a.products = append(a.products, product)
		}
	})
	return a
}

func (a *Aldi) Shop() models.ShopName {
	return models.ShopAldi
}

func (a *Aldi) buildURL(query string, relevantOnly bool) string {
	escaped := url.QueryEscape(query)
	if relevantOnly {
		return fmt.Sprintf("%s/en-GB/Search?keywords=%s", aldiBaseURL, escaped)
	}
	return fmt.Sprintf("%s/en-GB/Search?keywords=%s&sortBy=DisplayPrice&sortDirection=asc&page=%d",
		aldiBaseURL, escaped, a.currentPage)
}

// Fetch visits the default result page, or every page ascending by price when
// relevantOnly is false. Faults end pagination and return what was collected.
func (a *Aldi) Fetch(ctx context.Context, query string, relevantOnly bool) models.FetchResult {
	start := time.Now()
	a.query = query

	for {
		if ctx.Err() != nil {
			a.fault(ctx.Err())
			break
		}
		if err := a.collector.Visit(a.buildURL(query, relevantOnly)); err != nil {
			a.fault(err)
			break
		}
		a.deps.Metrics.IncPage(models.ShopAldi)

		if relevantOnly {
			break
		}
		if a.totalPages == 0 {
			a.totalPages = pageCount(a.totalItems, a.perPage)
		}
		a.currentPage++
		if a.currentPage > a.totalPages {
			break
		}
	}

	return summarize(a.deps, models.ShopAldi, start, a.products)
}

func (a *Aldi) extractProduct(e *colly.HTMLElement) (models.Product, bool) {
	product := models.Product{ShopName: models.ShopAldi}

	product.Name = strings.TrimSpace(e.ChildText(`[data-qa="search-product-title"]`))
	product.Price = parser.ParsePrice(e.ChildText(".product-tile-price .h4 span"))
	product.UnitType, product.PricePerUnit, product.UnitMeasurement =
		parser.UnitData(strings.TrimSpace(e.ChildText(`[data-qa="product-price"] > span`)), product.Price)

	product.ImgSrc = strings.TrimSpace(e.ChildAttr("img", "src"))
	if href := e.ChildAttr("a", "href"); href != "" {
		product.ProductURL = aldiBaseURL + href
	}

	if product.Name == "" || product.Price <= 0 {
		return models.Product{}, false
	}
	return product, true
}

func (a *Aldi) fault(err error) {
	category := faultLabel(classifyFault(err))
	a.deps.Metrics.IncFault(models.ShopAldi, category)
	slog.Warn("adapter fault",
		slog.String("shop", string(models.ShopAldi)),
		slog.String("query", a.query),
		slog.String("category", category),
		slog.Any("error", err),
	)
}
