// Package browser provides rendering sessions for catalog pages. A Session
// navigates to a URL and hands back the page markup once a ready selector
// shows up; an Opener starts sessions configured with a client identity.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrSessionUnavailable is returned when the backend cannot start a session.
	ErrSessionUnavailable = errors.New("browser: session unavailable")
	// ErrNavigationTimeout is returned when the ready selector never appears.
	ErrNavigationTimeout = errors.New("browser: navigation timeout")
	// ErrSessionClosed is returned when a closed session is reused.
	ErrSessionClosed = errors.New("browser: session closed")
)

// Session is a single rendering target owned by one goroutine.
type Session interface {
	// Navigate loads url and returns the rendered markup after readySelector
	// matches. An empty selector skips the wait.
	Navigate(ctx context.Context, url, readySelector string) (string, error)
	// Close releases the session. Calling it again is a no-op.
	Close() error
}

// Opener starts new sessions.
type Opener interface {
	Open(ctx context.Context, identity string) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, identity string) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, identity string) (Session, error) {
	return f(ctx, identity)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
}

// navigationError maps deadline and network timeouts onto ErrNavigationTimeout.
func navigationError(url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("navigate %s: %w: %w", url, ErrNavigationTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("navigate %s: %w: %w", url, ErrNavigationTimeout, err)
	}
	return fmt.Errorf("navigate %s: %w", url, err)
}
