package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrSessionClosed = errors.New("browser session is closed")

// Launcher creates the browsing context backing a Session.
type Launcher func(opts *Options) (Context, error)

// PlaywrightLauncher launches a real headless Chromium.
func PlaywrightLauncher(opts *Options) (Context, error) {
	b, err := Launch(opts)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Session owns at most one browser and one context. The browser is started
// on the first Ensure and torn down by Close; a closed session cannot be
// reopened.
type Session struct {
	mu       sync.Mutex
	opts     Options
	identity *Identity
	launch   Launcher
	current  Context
	closed   bool
	logger   *slog.Logger

	// baseLogger is handed to the launcher without the session's attributes.
	baseLogger *slog.Logger
}

func NewSession(opts *Options, identity *Identity, launch Launcher, logger *slog.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if identity == nil {
		identity = NewIdentity(nil)
	}
	if launch == nil {
		launch = PlaywrightLauncher
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		opts:     *opts,
		identity: identity,
		launch:   launch,
		logger:   logger.With("component", "browser_session"),

		baseLogger: logger,
	}
}

// Ensure returns the session's context, launching the browser on first use.
func (s *Session) Ensure(ctx context.Context) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.current != nil {
		return s.current, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := s.opts
	if opts.UserAgent == "" {
		opts.UserAgent = s.identity.UserAgent()
	}
	if opts.Logger == nil {
		opts.Logger = s.baseLogger
	}

	s.logger.Info("launching browser", "headless", opts.Headless, "locale", opts.Locale)

	bc, err := s.launch(&opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser context: %w", err)
	}

	s.current = bc
	return bc, nil
}

// Active reports whether a browser is currently running for this session.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the browser down. Calling it more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.current == nil {
		return nil
	}

	err := s.current.Close()
	s.current = nil
	if err != nil {
		s.logger.Error("error closing browser", "error", err)
		return fmt.Errorf("failed to close browser session: %w", err)
	}

	s.logger.Info("browser session closed")
	return nil
}
