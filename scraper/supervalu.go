package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/parser"
)

const superValuBaseURL = "https://shop.supervalu.ie"

// SuperValu scrapes shop.supervalu.ie search results. The site renders
// through JavaScript, so pages are loaded in a headless browser and the
// resulting DOM is extracted with goquery.
type SuperValu struct {
	deps        Deps
	currentPage int
	totalPages  int
	skipIndex   int
	perPage     int
}

// NewSuperValu returns a fresh adapter; instances carry per-fetch pagination state.
func NewSuperValu(deps Deps) *SuperValu {
	return &SuperValu{
		deps:        deps,
		currentPage: 1,
		perPage:     models.PageSize[models.ShopSuperValu],
	}
}

func (s *SuperValu) Shop() models.ShopName {
	return models.ShopSuperValu
}

func (s *SuperValu) buildURL(query string, relevantOnly bool) string {
	escaped := url.QueryEscape(query)
	if relevantOnly {
		return fmt.Sprintf("%s/sm/delivery/rsid/5550/results?q=%s", superValuBaseURL, escaped)
	}
	return fmt.Sprintf("%s/sm/delivery/rsid/5550/results?q=%s&sort=price&page=%d&skip=%d",
		superValuBaseURL, escaped, s.currentPage, s.skipIndex)
}

// Fetch visits the default result page, or every page ascending by price when
// relevantOnly is false. Faults end pagination and return what was collected.
func (s *SuperValu) Fetch(ctx context.Context, query string, relevantOnly bool) models.FetchResult {
	start := time.Now()
	var products []models.Product

	session, err := openSession(ctx, s.deps.Cfg)
	if err != nil {
		s.fault(query, err)
		return summarize(s.deps, models.ShopSuperValu, start, products)
	}
	defer session.Close()

	for {
		if err := session.load(s.buildURL(query, relevantOnly), `[class^="Listing"]`); err != nil {
			s.fault(query, err)
			break
		}

		content, err := session.html()
		if err != nil {
			s.fault(query, err)
			break
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err != nil {
			s.fault(query, err)
			break
		}

		s.deps.Metrics.IncPage(models.ShopSuperValu)
		products = append(products, s.parseDoc(doc)...)

		if relevantOnly {
			break
		}
		if s.totalPages == 0 {
			s.totalPages = s.numberOfPages(doc)
		}
		s.currentPage++
		s.skipIndex += s.perPage
		if s.currentPage > s.totalPages {
			break
		}
	}

	return summarize(s.deps, models.ShopSuperValu, start, products)
}

// numberOfPages reads the "N results" subtitle and converts the advertised
// total into a page count. Zero reads as "no further pages".
func (s *SuperValu) numberOfPages(doc *goquery.Document) int {
	text := doc.Find(`h4[class^="Subtitle"]`).First().Text()
	total, _ := strconv.Atoi(digitsRe.FindString(text))
	return pageCount(total, s.perPage)
}

func (s *SuperValu) parseDoc(doc *goquery.Document) []models.Product {
	var products []models.Product
	doc.Find(`[class^="ColListing"]`).Each(func(_ int, row *goquery.Selection) {
		product := models.Product{ShopName: models.ShopSuperValu}

		product.Name = strings.TrimSpace(row.Find(`span[class^="ProductCardTitle"] > div`).First().Text())
		product.Price = parser.ParsePrice(row.Find(`span[class*="ProductCardPrice"]`).First().Text())
		product.UnitType, product.PricePerUnit, product.UnitMeasurement =
			parser.UnitData(strings.TrimSpace(row.Find(`span[class*="ProductCardPriceInfo"]`).First().Text()), product.Price)

		if src, ok := row.Find(`[class^="ProductCardImageWrapper"] > div > img`).First().Attr("src"); ok {
			product.ImgSrc = strings.TrimSpace(src)
		}
		if href, ok := row.Find("a").First().Attr("href"); ok && href != "" {
			if strings.HasPrefix(href, "/") {
				href = superValuBaseURL + href
			}
			product.ProductURL = href
		}

		if product.Name == "" || product.Price <= 0 {
			return
		}
		products = append(products, product)
	})
	return products
}

func (s *SuperValu) fault(query string, err error) {
	category := faultLabel(classifyFault(err))
	s.deps.Metrics.IncFault(models.ShopSuperValu, category)
	slog.Warn("adapter fault",
		slog.String("shop", string(models.ShopSuperValu)),
		slog.String("query", query),
		slog.String("category", category),
		slog.Any("error", err),
	)
}
