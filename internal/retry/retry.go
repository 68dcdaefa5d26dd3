package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// =============================================================================
// Config
// =============================================================================

// Config controls the attempt loop of the API client.
type Config struct {
	MaxAttempts int           // total attempts per request, including the first
	BaseDelay   time.Duration // linear backoff unit
}

// DefaultConfig returns three attempts with a one second base delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("retry: MaxAttempts must be >= 1")
	}
	if c.BaseDelay < 0 {
		return errors.New("retry: BaseDelay must be >= 0")
	}
	return nil
}

// =============================================================================
// Backoff
// =============================================================================

// Backoff returns the delay after a failed attempt (1-based) of the given kind.
// Growth is linear: base x attempt, doubled for timeouts.
func Backoff(kind domain.ErrorKind, base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if kind == domain.KindTimeout {
		d *= 2
	}
	return d
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// Error Classification
// =============================================================================

// Classifier maps a raw transport error to an ErrorKind. KindUnknown means
// "unclassified" and is retried like other transient kinds.
type Classifier func(err error) domain.ErrorKind

// StatusCoder is implemented by transport errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// DefaultClassify classifies err by HTTP status when available, then by
// transport timeout signals, then by substring matching on the lowercased message.
// Substring matches are checked in order: rate, invalid, auth, timeout. A
// *url.Error is matched on its cause only, so the request URL never decides the kind.
func DefaultClassify(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if k, ok := classifyStatus(sc.HTTPStatus()); ok {
			return k
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	return classifyMessage(err.Error())
}

func classifyStatus(code int) (domain.ErrorKind, bool) {
	switch code {
	case http.StatusTooManyRequests:
		return domain.KindRateLimited, true
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return domain.KindInvalidRequest, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindAuthFailed, true
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.KindTimeout, true
	}
	return domain.KindUnknown, false
}

func classifyMessage(msg string) domain.ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "rate") || strings.Contains(msg, "429"):
		return domain.KindRateLimited
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "400"):
		return domain.KindInvalidRequest
	case strings.Contains(msg, "auth") || strings.Contains(msg, "401"):
		return domain.KindAuthFailed
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return domain.KindTimeout
	}
	return domain.KindUnknown
}
