package scraper

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoResponse     = errors.New("no response received")
	ErrInvalidRequest = errors.New("invalid fetch request")
)

// SkipError means the page was retrieved but the shop answered with an HTTP
// error status. It is never retried.
type SkipError struct {
	URL    string
	Status int
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("HTTP %d error for %s", e.Status, e.URL)
}

// TransientError covers selector timeouts, missing responses and every other
// navigation or parsing fault. It is retried with backoff.
type TransientError struct {
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("error scraping %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// classify maps any error from a single fetch attempt onto SkipError or
// TransientError, so the retry policy never sees anything else.
func classify(url string, err error) error {
	if err == nil {
		return nil
	}

	if IsSkip(err) || IsTransient(err) {
		return err
	}
	return &TransientError{URL: url, Err: err}
}

func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

type OutcomeKind int

const (
	OutcomeDocument OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDocument:
		return "document"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one top-level fetch. Document is set only for
// OutcomeDocument, Err only for the other two kinds.
type Outcome struct {
	Kind     OutcomeKind
	Document *goquery.Document
	Err      error
	Attempts int
}

func (o Outcome) OK() bool {
	return o.Kind == OutcomeDocument
}
