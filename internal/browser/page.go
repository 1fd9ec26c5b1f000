package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

var ErrSelectorTimeout = errors.New("timed out waiting for selector")

// WaitUntil is the page-load completeness criterion used before a navigation
// is considered done.
type WaitUntil string

const (
	WaitUntilLoad             WaitUntil = "load"
	WaitUntilDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitUntilNetworkIdle      WaitUntil = "networkidle"
	WaitUntilCommit           WaitUntil = "commit"
)

func (w WaitUntil) Valid() bool {
	switch w {
	case WaitUntilLoad, WaitUntilDOMContentLoaded, WaitUntilNetworkIdle, WaitUntilCommit:
		return true
	}
	return false
}

func (w WaitUntil) state() *playwright.WaitUntilState {
	switch w {
	case WaitUntilLoad:
		return playwright.WaitUntilStateLoad
	case WaitUntilNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	case WaitUntilCommit:
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

// Response is the part of a navigation response the scraper cares about.
type Response struct {
	URL    string
	Status int
}

type Mouse interface {
	Wheel(deltaX, deltaY float64) error
	Move(x, y float64) error
	Click(x, y float64) error
}

type Page interface {
	SetTimeouts(request, navigation time.Duration)
	SetExtraHTTPHeaders(headers map[string]string) error
	// Goto returns a nil Response without error when the browser produced
	// no response object for the navigation.
	Goto(url string, waitUntil WaitUntil, timeout time.Duration) (*Response, error)
	WaitForSelector(selector string, timeout time.Duration) error
	Content() (string, error)
	Mouse() Mouse
	Close() error
}

// Context is one browsing context able to open pages.
type Context interface {
	NewPage() (Page, error)
	Close() error
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) SetTimeouts(request, navigation time.Duration) {
	p.page.SetDefaultTimeout(float64(request.Milliseconds()))
	p.page.SetDefaultNavigationTimeout(float64(navigation.Milliseconds()))
}

func (p *playwrightPage) SetExtraHTTPHeaders(headers map[string]string) error {
	return p.page.SetExtraHTTPHeaders(headers)
}

func (p *playwrightPage) Goto(url string, waitUntil WaitUntil, timeout time.Duration) (*Response, error) {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil.state(),
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	return &Response{URL: resp.URL(), Status: resp.Status()}, nil
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w %q: %v", ErrSelectorTimeout, selector, err)
	}
	return err
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Mouse() Mouse {
	return &playwrightMouse{mouse: p.page.Mouse()}
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

type playwrightMouse struct {
	mouse playwright.Mouse
}

func (m *playwrightMouse) Wheel(deltaX, deltaY float64) error {
	return m.mouse.Wheel(deltaX, deltaY)
}

func (m *playwrightMouse) Move(x, y float64) error {
	return m.mouse.Move(x, y)
}

func (m *playwrightMouse) Click(x, y float64) error {
	return m.mouse.Click(x, y)
}
