package shops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

const (
	bernPageSize      = 18
	bernListSelector  = "#main-content"
	bernSingleResult  = "Showing the single result"
	bernFeefoMerchant = "bern-pet-foods"
	bernFeefoOrigin   = "www.bernpetfoods.co.uk"
)

var bernPostID = regexp.MustCompile(`postid-(\d+)`)

// BernPetFoods is a WooCommerce shop. Listings are paginated HTML and the
// product rating comes from the Feefo reviews API.
type BernPetFoods struct {
	baseURL  string
	feefoURL string
	client   *resty.Client
	logger   *slog.Logger
}

func NewBernPetFoods(client *resty.Client, logger *slog.Logger) *BernPetFoods {
	return &BernPetFoods{
		baseURL:  "https://www.bernpetfoods.co.uk",
		feefoURL: "https://api.feefo.com/api/10/reviews/summary/product",
		client:   client,
		logger:   logger.With("shop", "BernPetFoods"),
	}
}

func (b *BernPetFoods) Name() string            { return "BernPetFoods" }
func (b *BernPetFoods) BaseURL() string         { return b.baseURL }
func (b *BernPetFoods) ProductSelector() string { return "#primary" }

func (b *BernPetFoods) ProductPace() (time.Duration, time.Duration) {
	return time.Second, 3 * time.Second
}

func (b *BernPetFoods) Extract(ctx context.Context, f Fetcher, category string) ([]string, error) {
	categoryURL := b.baseURL + category

	doc := f.Fetch(ctx, categoryURL, bernListSelector)
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDocument, categoryURL)
	}

	total, err := bernResultCount(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to read result count for %s: %w", categoryURL, err)
	}

	pages := int(math.Ceil(float64(total) / bernPageSize))

	var urls []string
	for i := 1; i <= pages; i++ {
		pageURL := fmt.Sprintf("%s/page/%d/", categoryURL, i)

		page := f.Fetch(ctx, pageURL, bernListSelector)
		if page == nil {
			b.logger.Warn("listing page unavailable", "url", pageURL)
			continue
		}

		page.Find("div.ftc-product").Each(func(_ int, card *goquery.Selection) {
			if href, ok := card.Find("a").First().Attr("href"); ok && href != "" {
				urls = append(urls, href)
			}
		})
	}

	return urls, nil
}

// bernResultCount reads "Showing 1–18 of 45 results" style counters.
func bernResultCount(doc *goquery.Document) (int, error) {
	text := strings.TrimSpace(doc.Find("p.woocommerce-result-count").First().Text())
	if text == "" {
		return 0, fmt.Errorf("%w: result count", ErrMissingField)
	}
	if text == bernSingleResult {
		return 1, nil
	}

	_, after, ok := strings.Cut(text, " of ")
	if !ok {
		return 0, fmt.Errorf("unexpected result count %q", text)
	}

	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(after), "results")))
	if err != nil {
		return 0, fmt.Errorf("unexpected result count %q: %w", text, err)
	}
	return n, nil
}

type bernVariation struct {
	WeightHTML          string  `json:"weight_html"`
	DisplayPrice        float64 `json:"display_price"`
	DisplayRegularPrice float64 `json:"display_regular_price"`
}

func (b *BernPetFoods) Transform(ctx context.Context, doc *goquery.Document, url string) ([]models.ProductRow, error) {
	name := strings.TrimSpace(doc.Find("h1.product_title").First().Text())
	if name == "" {
		return nil, fmt.Errorf("%w: product title on %s", ErrMissingField, url)
	}

	bodyClass, _ := doc.Find("body").Attr("class")
	match := bernPostID.FindStringSubmatch(bodyClass)
	if match == nil {
		return nil, fmt.Errorf("%w: postid on %s", ErrMissingField, url)
	}

	rating, err := b.rating(ctx, match[1])
	if err != nil {
		return nil, err
	}

	var images []string
	doc.Find("div.woocommerce-product-gallery__image").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Find("img").First().Attr("src"); ok {
			images = append(images, src)
		}
	})

	base := models.ProductRow{
		Shop:        b.Name(),
		Name:        name,
		Rating:      rating,
		Description: cleanText(doc.Find("div.description_fullcontent").First()),
		URL:         strings.Replace(url, b.baseURL, "", 1),
		ImageURLs:   images,
	}

	form := doc.Find("form.variations_form").First()
	if form.Length() == 0 {
		price, err := priceAfterPound(doc.Find("p.price").First().Text())
		if err != nil {
			return nil, fmt.Errorf("failed to parse price on %s: %w", url, err)
		}
		row := base
		row.Price = price
		return []models.ProductRow{row}, nil
	}

	raw, _ := form.Attr("data-product_variations")
	var variations []bernVariation
	if err := json.Unmarshal([]byte(raw), &variations); err != nil {
		return nil, fmt.Errorf("failed to decode variations on %s: %w", url, err)
	}

	rows := make([]models.ProductRow, 0, len(variations))
	for _, v := range variations {
		row := base
		row.Variant = ptr(v.WeightHTML)
		if v.DisplayPrice == v.DisplayRegularPrice {
			row.Price = v.DisplayPrice
		} else {
			row.Price = v.DisplayRegularPrice
			row.DiscountedPrice = ptr(v.DisplayPrice)
			row.DiscountPercentage = discountRatio(v.DisplayRegularPrice, v.DisplayPrice)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

type feefoSummary struct {
	Rating struct {
		Rating float64 `json:"rating"`
	} `json:"rating"`
}

// rating returns the Feefo product rating as "N/5".
func (b *BernPetFoods) rating(ctx context.Context, productID string) (string, error) {
	var summary feefoSummary

	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"since_period":        "ALL",
			"parent_product_sku":  productID,
			"merchant_identifier": bernFeefoMerchant,
			"origin":              bernFeefoOrigin,
		}).
		SetResult(&summary).
		Get(b.feefoURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch rating for %s: %w", productID, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to fetch rating for %s: status %d", productID, resp.StatusCode())
	}

	return fmt.Sprintf("%d/5", int(summary.Rating.Rating)), nil
}
