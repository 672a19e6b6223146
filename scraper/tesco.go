package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chavrod/shopwiz/models"
	"github.com/chavrod/shopwiz/parser"
)

const tescoBaseURL = "https://www.tesco.ie"

var digitsRe = regexp.MustCompile(`\d+`)

// Tesco scrapes tesco.ie grocery search results through a headless browser.
type Tesco struct {
	deps        Deps
	currentPage int
	totalPages  int
	perPage     int
}

// NewTesco returns a fresh adapter; instances carry per-fetch pagination state.
func NewTesco(deps Deps) *Tesco {
	return &Tesco{
		deps:        deps,
		currentPage: 1,
		perPage:     models.PageSize[models.ShopTesco],
	}
}

func (t *Tesco) Shop() models.ShopName {
	return models.ShopTesco
}

func (t *Tesco) buildURL(query string, relevantOnly bool) string {
	escaped := url.QueryEscape(query)
	if relevantOnly {
		return fmt.Sprintf("%s/groceries/en-IE/search?query=%s&count=%d", tescoBaseURL, escaped, t.perPage)
	}
	return fmt.Sprintf("%s/groceries/en-IE/search?query=%s&sortBy=price-ascending&page=%d&count=%d",
		tescoBaseURL, escaped, t.currentPage, t.perPage)
}

// Fetch visits the default result page, or every page ascending by price when
// relevantOnly is false. Faults end pagination and return what was collected.
func (t *Tesco) Fetch(ctx context.Context, query string, relevantOnly bool) models.FetchResult {
	start := time.Now()
	var products []models.Product

	session, err := openSession(ctx, t.deps.Cfg)
	if err != nil {
		t.fault(query, err)
		return summarize(t.deps, models.ShopTesco, start, products)
	}
	defer session.Close()

	for {
		if err := session.load(t.buildURL(query, relevantOnly), ".product-list-container"); err != nil {
			// Navigation and selector timeouts include the site's two empty
			// states; either way there is nothing more to collect.
			if !session.hasText(".heading.query", "no products found for") && !t.emptySection(session) {
				t.fault(query, err)
			}
			break
		}
		if session.hasText(".heading.query", "no products found for") || t.emptySection(session) {
			break
		}

		t.deps.Metrics.IncPage(models.ShopTesco)
		products = append(products, t.parsePage(session)...)

		if relevantOnly {
			break
		}
		if t.totalPages == 0 {
			t.totalPages = t.numberOfPages(session)
		}
		t.currentPage++
		if t.currentPage > t.totalPages {
			break
		}
	}

	return summarize(t.deps, models.ShopTesco, start, products)
}

func (t *Tesco) emptySection(session *browserSession) bool {
	has, _, err := session.page.Timeout(session.timeout).Has(`[data-auto="empty-section--message"]`)
	return err == nil && has
}

// numberOfPages reads the "showing 1-48 of N" strip and converts the total
// item count into a page count.
func (t *Tesco) numberOfPages(session *browserSession) int {
	el, err := session.page.Timeout(session.timeout).Element("div.pagination__items-displayed > strong:nth-child(2)")
	if err != nil {
		return 0
	}
	text, err := el.Text()
	if err != nil {
		return 0
	}
	total, _ := strconv.Atoi(digitsRe.FindString(text))
	return pageCount(total, t.perPage)
}

func (t *Tesco) parsePage(session *browserSession) []models.Product {
	rows, err := session.page.Timeout(session.timeout).Elements("li.product-list--list-item")
	if err != nil {
		return nil
	}

	var products []models.Product
	for _, row := range rows {
		product := models.Product{ShopName: models.ShopTesco}

		product.Name = elementText(row, "div.product-details--wrapper h3 span")
		product.Price = parser.ParsePrice(elementText(row, "div.product-details--wrapper form p"))
		product.UnitType, product.PricePerUnit, product.UnitMeasurement =
			parser.UnitData(elementText(row, "div.product-details--wrapper form p:nth-of-type(2)"), product.Price)

		if srcset := elementAttr(row, "div.product-image__container img", "srcset"); srcset != "" {
			product.ImgSrc = strings.SplitN(strings.TrimSpace(strings.SplitN(srcset, ",", 2)[0]), " ", 2)[0]
		}
		if href := elementAttr(row, "a", "href"); href != "" {
			product.ProductURL = tescoBaseURL + href
		}

		if product.Name == "" || product.Price <= 0 {
			continue
		}
		products = append(products, product)
	}
	return products
}

func (t *Tesco) fault(query string, err error) {
	category := faultLabel(classifyFault(err))
	t.deps.Metrics.IncFault(models.ShopTesco, category)
	slog.Warn("adapter fault",
		slog.String("shop", string(models.ShopTesco)),
		slog.String("query", query),
		slog.String("category", category),
		slog.Any("error", err),
	)
}
