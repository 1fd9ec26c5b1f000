// Package browsertest provides in-memory browser contexts and pages for tests.
package browsertest

import (
	"errors"
	"sync"
	"time"

	"github.com/maltedev/pet-price-crawler/internal/browser"
)

// Visit is one scripted answer for a page navigation.
type Visit struct {
	// NoResponse makes Goto return a nil response.
	NoResponse bool
	Status     int
	GotoErr    error
	// GotoPanic makes Goto panic with the given value, as a crashed driver would.
	GotoPanic   any
	SelectorErr error
	HTML        string
	ContentErr  error
	CloseErr    error
}

// Mouse records every synthetic input event.
type Mouse struct {
	mu      sync.Mutex
	Wheels  int
	Moves   int
	Clicks  int
	FailOn  string
	Err     error
	Actions []string
}

func (m *Mouse) record(action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actions = append(m.Actions, action)
	if m.FailOn == action {
		return m.Err
	}
	return nil
}

func (m *Mouse) Wheel(deltaX, deltaY float64) error {
	if err := m.record("wheel"); err != nil {
		return err
	}
	m.mu.Lock()
	m.Wheels++
	m.mu.Unlock()
	return nil
}

func (m *Mouse) Move(x, y float64) error {
	if err := m.record("move"); err != nil {
		return err
	}
	m.mu.Lock()
	m.Moves++
	m.mu.Unlock()
	return nil
}

func (m *Mouse) Click(x, y float64) error {
	if err := m.record("click"); err != nil {
		return err
	}
	m.mu.Lock()
	m.Clicks++
	m.mu.Unlock()
	return nil
}

// Page replays a single Visit.
type Page struct {
	visit Visit
	mouse *Mouse

	URL               string
	WaitUntil         browser.WaitUntil
	Headers           map[string]string
	RequestTimeout    time.Duration
	NavigationTimeout time.Duration
	Selector          string
	Closed            int
}

func NewPage(v Visit) *Page {
	return &Page{visit: v, mouse: &Mouse{}}
}

func (p *Page) SetTimeouts(request, navigation time.Duration) {
	p.RequestTimeout = request
	p.NavigationTimeout = navigation
}

func (p *Page) SetExtraHTTPHeaders(headers map[string]string) error {
	p.Headers = headers
	return nil
}

func (p *Page) Goto(url string, waitUntil browser.WaitUntil, timeout time.Duration) (*browser.Response, error) {
	p.URL = url
	p.WaitUntil = waitUntil
	if p.visit.GotoPanic != nil {
		panic(p.visit.GotoPanic)
	}
	if p.visit.GotoErr != nil {
		return nil, p.visit.GotoErr
	}
	if p.visit.NoResponse {
		return nil, nil
	}
	status := p.visit.Status
	if status == 0 {
		status = 200
	}
	return &browser.Response{URL: url, Status: status}, nil
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	p.Selector = selector
	return p.visit.SelectorErr
}

func (p *Page) Content() (string, error) {
	return p.visit.HTML, p.visit.ContentErr
}

func (p *Page) Mouse() browser.Mouse {
	return p.mouse
}

func (p *Page) MouseEvents() *Mouse {
	return p.mouse
}

func (p *Page) Close() error {
	p.Closed++
	return p.visit.CloseErr
}

// Context hands out pages scripted by Visits, in order. Once the script is
// exhausted the last visit repeats.
type Context struct {
	mu       sync.Mutex
	visits   []Visit
	Pages    []*Page
	Closed   int
	CloseErr error
	PageErr  error
}

func NewContext(visits ...Visit) *Context {
	return &Context{visits: visits}
}

func (c *Context) NewPage() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PageErr != nil {
		return nil, c.PageErr
	}

	var v Visit
	switch {
	case len(c.visits) == 0:
		v = Visit{Status: 200}
	case len(c.Pages) < len(c.visits):
		v = c.visits[len(c.Pages)]
	default:
		v = c.visits[len(c.visits)-1]
	}

	p := NewPage(v)
	c.Pages = append(c.Pages, p)
	return p, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed++
	return c.CloseErr
}

// Attempts is the number of pages opened so far.
func (c *Context) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Pages)
}

// Launcher counts launches and hands out Context.
type Launcher struct {
	mu       sync.Mutex
	Context  *Context
	Launches int
	Options  []browser.Options
	Err      error
}

func (l *Launcher) Launch(opts *browser.Options) (browser.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launches++
	l.Options = append(l.Options, *opts)
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Context == nil {
		return nil, errors.New("browsertest: no context configured")
	}
	return l.Context, nil
}
