// Package notification sends alerts for contained acquisition failures
// through shoutrrr services.
package notification

import (
	"context"
	"io"
	stdlog "log"
	"net/url"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
)

const (
	componentNotification = "notification"
	DefaultSendTimeout    = 15 * time.Second
	// At most one alert per sendInterval on average, bursts up to sendBurst
	sendInterval = 10 * time.Second
	sendBurst    = 5
)

// GetLogger returns the notification package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// Sender delivers one message to every configured service. The shoutrrr
// router satisfies it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Message is one alert
type Message struct {
	Title string
	Body  string
}

// Notifier rate limits alerts and guards the sender with a circuit breaker
type Notifier struct {
	sender  Sender
	urls    []string
	breaker *CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	log     logger.Logger
}

// NewShoutrrr builds a notifier for urls. Invalid URLs are reported with
// credentials removed.
func NewShoutrrr(urls []string, log logger.Logger) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component(componentNotification).
			Category(errors.CategoryConfiguration).
			Build()
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.Newf("%s", redact(err.Error(), urls)).
			Component(componentNotification).
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = DefaultSendTimeout
	router.SetLogger(stdlog.New(io.Discard, "", 0))

	return NewNotifier(router, urls, log), nil
}

// NewNotifier wraps sender. urls are only used to redact error messages.
func NewNotifier(sender Sender, urls []string, log logger.Logger) *Notifier {
	if log == nil {
		log = GetLogger()
	}
	return &Notifier{
		sender:  sender,
		urls:    slices.Clone(urls),
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		limiter: rate.NewLimiter(rate.Every(sendInterval), sendBurst),
		timeout: DefaultSendTimeout,
		log:     log,
	}
}

// Send delivers msg unless the rate limit or the circuit breaker rejects it
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	if !n.limiter.Allow() {
		n.log.Warn("notification rate limited", logger.String("title", msg.Title))
		return ErrRateLimited
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	return n.breaker.Call(ctx, func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() {
			params := stypes.Params{}
			if msg.Title != "" {
				params.SetTitle(msg.Title)
			}
			done <- firstError(n.sender.Send(msg.Body, &params))
		}()

		select {
		case err := <-done:
			if err != nil {
				return errors.Newf("%s", redact(err.Error(), n.urls)).
					Component(componentNotification).
					Category(errors.CategoryNotification).
					Build()
			}
			return nil
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component(componentNotification).
				Category(errors.CategoryNotification).
				Context("operation", "send").
				Build()
		}
	})
}

// BreakerState returns the circuit breaker state
func (n *Notifier) BreakerState() CircuitState {
	return n.breaker.State()
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// redact replaces every configured URL in msg by its scheme, since service
// URLs carry tokens.
func redact(msg string, urls []string) string {
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		scheme := "url"
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
			scheme = u.Scheme
		}
		msg = strings.ReplaceAll(msg, raw, scheme+"://[REDACTED]")
	}
	return msg
}
