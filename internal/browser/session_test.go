package browser_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/maltedev/pet-price-crawler/internal/browser"
	"github.com/maltedev/pet-price-crawler/internal/browser/browsertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEnsureIsIdempotent(t *testing.T) {
	launcher := &browsertest.Launcher{Context: browsertest.NewContext()}
	s := browser.NewSession(browser.DefaultOptions(), browser.NewIdentity([]string{"test-agent"}), launcher.Launch, slog.Default())

	first, err := s.Ensure(context.Background())
	require.NoError(t, err)
	second, err := s.Ensure(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, launcher.Launches)
	assert.True(t, s.Active())

	opts := launcher.Options[0]
	assert.Equal(t, "test-agent", opts.UserAgent)
	assert.Equal(t, "en-US", opts.Locale)
	assert.True(t, opts.Headless)
}

func TestSessionClose(t *testing.T) {
	t.Run("closes once", func(t *testing.T) {
		bc := browsertest.NewContext()
		launcher := &browsertest.Launcher{Context: bc}
		s := browser.NewSession(nil, nil, launcher.Launch, nil)

		_, err := s.Ensure(context.Background())
		require.NoError(t, err)

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.Equal(t, 1, bc.Closed)
		assert.False(t, s.Active())
	})

	t.Run("never launched", func(t *testing.T) {
		launcher := &browsertest.Launcher{Context: browsertest.NewContext()}
		s := browser.NewSession(nil, nil, launcher.Launch, nil)

		assert.NoError(t, s.Close())
		assert.Zero(t, launcher.Launches)
	})

	t.Run("ensure after close", func(t *testing.T) {
		launcher := &browsertest.Launcher{Context: browsertest.NewContext()}
		s := browser.NewSession(nil, nil, launcher.Launch, nil)
		require.NoError(t, s.Close())

		_, err := s.Ensure(context.Background())
		assert.ErrorIs(t, err, browser.ErrSessionClosed)
		assert.Zero(t, launcher.Launches)
	})

	t.Run("close error is reported", func(t *testing.T) {
		bc := browsertest.NewContext()
		bc.CloseErr = errors.New("browser already gone")
		s := browser.NewSession(nil, nil, (&browsertest.Launcher{Context: bc}).Launch, nil)
		_, err := s.Ensure(context.Background())
		require.NoError(t, err)

		assert.ErrorContains(t, s.Close(), "browser already gone")
		assert.NoError(t, s.Close())
		assert.Equal(t, 1, bc.Closed)
	})
}

func TestSessionLaunchFailure(t *testing.T) {
	launcher := &browsertest.Launcher{Err: errors.New("chromium not installed")}
	s := browser.NewSession(nil, nil, launcher.Launch, nil)

	_, err := s.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium not installed")
	assert.False(t, s.Active())
}

func TestSessionPassesLoggerToLauncher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	launcher := &browsertest.Launcher{Context: browsertest.NewContext()}
	s := browser.NewSession(nil, nil, launcher.Launch, logger)

	_, err := s.Ensure(context.Background())
	require.NoError(t, err)

	require.Len(t, launcher.Options, 1)
	require.NotNil(t, launcher.Options[0].Logger)

	buf.Reset()
	launcher.Options[0].Logger.Info("browser ready")
	assert.Contains(t, buf.String(), "browser ready")
	assert.NotContains(t, buf.String(), "browser_session")
}
