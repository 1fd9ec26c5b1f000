package shops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/maltedev/pet-price-crawler/internal/browser"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

const (
	zooplusPageSize   = 24
	zooplusLDSelector = "script[type*='application/ld+json']"
	zooplusABFlags    = "shop-10734_shop_product_catalog_api_enabled_targeted_delivery.enabled+" +
		"idpo-1141_article_based_product_cards_targeted_delivery.on+" +
		"idpo-1390_rebranding_foundation_targeted_delivery.on+" +
		"explore-3092-price-redesign_targeted_delivery.on"
)

// Zooplus lists products through its discover JSON API and renders product
// pages with JSON-LD plus price widgets.
type Zooplus struct {
	baseURL string
	apiURL  string
	client  *resty.Client
	logger  *slog.Logger
}

func NewZooplus(client *resty.Client, logger *slog.Logger) *Zooplus {
	return &Zooplus{
		baseURL: "https://www.zooplus.co.uk",
		apiURL:  "https://www.zooplus.co.uk/api/discover/v1/products/list-faceted-partial",
		client:  client,
		logger:  logger.With("shop", "Zooplus"),
	}
}

func (z *Zooplus) Name() string            { return "Zooplus" }
func (z *Zooplus) BaseURL() string         { return z.baseURL }
func (z *Zooplus) ProductSelector() string { return zooplusLDSelector }

func (z *Zooplus) ProductPace() (time.Duration, time.Duration) {
	return time.Second, 3 * time.Second
}

type zooplusListing struct {
	Pagination *struct {
		Count int `json:"count"`
	} `json:"pagination"`
	ProductList struct {
		Products []struct {
			Path string `json:"path"`
		} `json:"products"`
	} `json:"productList"`
}

func (l *zooplusListing) paths(base string) []string {
	urls := make([]string, 0, len(l.ProductList.Products))
	for _, p := range l.ProductList.Products {
		if p.Path != "" {
			urls = append(urls, base+p.Path)
		}
	}
	return urls
}

func (z *Zooplus) Extract(ctx context.Context, f Fetcher, category string) ([]string, error) {
	first, err := z.listPage(ctx, f, category, 1)
	if err != nil {
		return nil, err
	}

	urls := first.paths(z.baseURL)

	pages := 1
	if first.Pagination != nil {
		pages = first.Pagination.Count
	}

	for i := 2; i <= pages; i++ {
		listing, err := z.listPage(ctx, f, category, i)
		if err != nil {
			z.logger.Warn("listing page unavailable", "category", category, "page", i, "error", err)
			continue
		}
		urls = append(urls, listing.paths(z.baseURL)...)
	}

	return urls, nil
}

// listPage calls the listing API and paces afterwards, like a browser
// navigation would.
func (z *Zooplus) listPage(ctx context.Context, f Fetcher, category string, page int) (*zooplusListing, error) {
	headers := browser.BuildHeaders(map[string]string{
		"Referer":        z.baseURL,
		"Connection":     "keep-alive",
		"Sec-Fetch-Site": "none",
	})

	var listing zooplusListing
	resp, err := z.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"path":     category,
			"domain":   "zooplus.co.uk",
			"language": "en",
			"page":     strconv.Itoa(page),
			"size":     strconv.Itoa(zooplusPageSize),
			"ab":       zooplusABFlags,
		}).
		SetResult(&listing).
		Get(z.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s page %d: %w", category, page, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to list %s page %d: status %d", category, page, resp.StatusCode())
	}

	z.logger.Info("successfully extracted listing", "category", category, "page", page, "status", resp.StatusCode())
	f.Pace(ctx, time.Second, 3*time.Second)

	return &listing, nil
}

type zooplusLD struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	AggregateRating *struct {
		RatingValue json.Number `json:"ratingValue"`
	} `json:"aggregateRating"`
}

func (z *Zooplus) Transform(ctx context.Context, doc *goquery.Document, url string) ([]models.ProductRow, error) {
	script := doc.Find(zooplusLDSelector).First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("%w: product json-ld on %s", ErrMissingField, url)
	}

	var ld zooplusLD
	if err := json.Unmarshal([]byte(script.Text()), &ld); err != nil {
		return nil, fmt.Errorf("failed to decode json-ld on %s: %w", url, err)
	}

	rating := "0/5"
	if ld.AggregateRating != nil && ld.AggregateRating.RatingValue != "" {
		rating = fmt.Sprintf("%s/5", ld.AggregateRating.RatingValue)
	}

	base := models.ProductRow{
		Shop:        z.Name(),
		Name:        ld.Name,
		Rating:      rating,
		Description: ld.Description,
		URL:         strings.Replace(url, z.baseURL, "", 1),
	}

	list := doc.Find("div.VariantList_variantList__PeaNd").First()
	if list.Length() == 0 {
		row, err := z.singleVariant(doc, base)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", url, err)
		}
		return []models.ProductRow{row}, nil
	}

	var rows []models.ProductRow
	var parseErr error
	list.Find("div[data-hopps*='Variant']").EachWithBreak(func(_ int, v *goquery.Selection) bool {
		row := base
		row.Variant = ptr(v.Find("span[class*='VariantDescription_description']").First().Text())
		if src, ok := v.Find("img").First().Attr("src"); ok {
			row.ImageURLs = []string{src}
		}

		if v.Find("div.z-product-price__note-wrap").Length() > 0 {
			parseErr = z.discounted(&row,
				v.Find("div[class*='z-product-price__nowrap']").First().Text(),
				v.Find("span[class*='z-product-price__amount']").First().Text())
		} else {
			row.Price, parseErr = priceAfterPound(v.Find("span[class*='z-product-price__amount']").First().Text())
		}
		if parseErr != nil {
			return false
		}

		rows = append(rows, row)
		return true
	})
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse variant on %s: %w", url, parseErr)
	}

	return rows, nil
}

func (z *Zooplus) singleVariant(doc *goquery.Document, row models.ProductRow) (models.ProductRow, error) {
	row.Variant = ptr(doc.Find("div[data-zta*='ProductTitle__Subtitle']").First().Text())
	if img, ok := doc.Find("meta[property='og:image']").First().Attr("content"); ok {
		row.ImageURLs = []string{img}
	}

	top := doc.Find("span[data-zta='SelectedArticleBox__TopSection']").First()
	if top.Length() == 0 {
		return row, fmt.Errorf("%w: selected article box", ErrMissingField)
	}

	var err error
	if top.Find("div.z-product-price__note-wrap").Length() > 0 {
		err = z.discounted(&row,
			top.Find("div.z-product-price__nowrap").First().Text(),
			top.Find("span.z-product-price__amount--reduced").First().Text())
	} else {
		row.Price, err = priceAfterPound(top.Find("span.z-product-price__amount").First().Text())
	}
	return row, err
}

// discounted fills the regular price from the struck-through RRP and the
// reduced price from the amount widget.
func (z *Zooplus) discounted(row *models.ProductRow, regularText, reducedText string) error {
	price, err := parsePrice(regularText)
	if err != nil {
		return err
	}
	reduced, err := priceAfterPound(reducedText)
	if err != nil {
		return err
	}

	row.Price = price
	row.DiscountedPrice = ptr(reduced)
	row.DiscountPercentage = discountRatio(price, reduced)
	return nil
}
