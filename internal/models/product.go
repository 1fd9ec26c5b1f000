package models

import (
	"time"
)

// ProductRow is one priced variant of a product as scraped from a shop page.
// Products without variants carry a single row with a nil Variant.
type ProductRow struct {
	Shop               string   `json:"shop"`
	Name               string   `json:"name"`
	Rating             string   `json:"rating"`
	Description        string   `json:"description"`
	URL                string   `json:"url"`
	Variant            *string  `json:"variant,omitempty"`
	Price              float64  `json:"price"`
	DiscountedPrice    *float64 `json:"discounted_price,omitempty"`
	DiscountPercentage *float64 `json:"discount_percentage,omitempty"`
	ImageURLs          []string `json:"image_urls"`
}

// URLStatus is the scrape state of a product URL. A nil status means the URL
// has not been visited yet.
type URLStatus string

const (
	URLStatusDone   URLStatus = "DONE"
	URLStatusFailed URLStatus = "FAILED"
)

type ProductURL struct {
	ID        int64      `json:"id"`
	Shop      string     `json:"shop"`
	URL       string     `json:"url"`
	Status    *URLStatus `json:"scrape_status,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// RunMode selects which half of the ETL a run executes.
type RunMode string

const (
	RunModeLinks    RunMode = "links"
	RunModeProducts RunMode = "products"
)

func (m RunMode) Valid() bool {
	return m == RunModeLinks || m == RunModeProducts
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunStats summarizes a finished run.
type RunStats struct {
	Categories   int `json:"categories,omitempty"`
	LinksFound   int `json:"links_found,omitempty"`
	URLsTotal    int `json:"urls_total,omitempty"`
	URLsDone     int `json:"urls_done,omitempty"`
	URLsFailed   int `json:"urls_failed,omitempty"`
	RowsStaged   int `json:"rows_staged,omitempty"`
	RowsPromoted int `json:"rows_promoted,omitempty"`
}

type Run struct {
	ID          string     `json:"id"`
	Shop        string     `json:"shop"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
	Stats       RunStats   `json:"stats"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
