// Package bridge is the request/response channel between the window and
// the privileged side of the shell.
//
// Every request and response is CBOR-encoded on its way across, so the
// two sides share plain data only: a handler never sees the caller's
// values and the caller never receives a handler's pointers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "appshell/internal/errors"
	"appshell/internal/logging"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// Built-in channels.
const (
	ChannelPing            = "ping"
	ChannelVersions        = "versions"
	ChannelCheckForUpdates = "check-for-updates"
)

var (
	// ErrNoHandler is returned when no handler is registered for a channel.
	ErrNoHandler = errors.New("no handler registered")
	// ErrHandlerExists is returned when a channel already has a handler.
	ErrHandlerExists = errors.New("handler already registered")
)

// Handler answers requests on one channel. args holds the decoded
// request arguments. The returned value is encoded back to the caller.
type Handler func(ctx context.Context, args []any) (any, error)

type request struct {
	Channel string `cbor:"1,keyasint"`
	Args    []any  `cbor:"2,keyasint,omitempty"`
}

type response struct {
	Result cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	Error  string          `cbor:"2,keyasint,omitempty"`
}

// Bridge routes invocations to registered handlers.
type Bridge struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      logrus.FieldLogger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// New creates a bridge with no handlers.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		handlers: make(map[string]Handler),
		log:      logging.For("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle registers h for channel. A channel holds one handler.
func (b *Bridge) Handle(channel string, h Handler) error {
	if channel == "" || h == nil {
		return fmt.Errorf("bridge: channel and handler are required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[channel]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, channel)
	}
	b.handlers[channel] = h
	return nil
}

// RemoveHandler unregisters the handler for channel, if any.
func (b *Bridge) RemoveHandler(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
}

// Invoke sends args on channel and decodes the handler's result into
// out. out may be nil when the result is not needed.
func (b *Bridge) Invoke(ctx context.Context, channel string, out any, args ...any) error {
	b.mu.RLock()
	_, ok := b.handlers[channel]
	b.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.CodeBridge, "invoke "+channel, ErrNoHandler)
	}

	payload, err := marshal(request{Channel: channel, Args: args})
	if err != nil {
		return apperrors.New(apperrors.CodeBridge, "encode request", err)
	}

	reply, err := b.serve(ctx, payload)
	if err != nil {
		return apperrors.New(apperrors.CodeBridge, "invoke "+channel, err)
	}

	var resp response
	if err := unmarshal(reply, &resp); err != nil {
		return apperrors.New(apperrors.CodeBridge, "decode response", err)
	}
	if resp.Error != "" {
		return apperrors.New(apperrors.CodeBridge, channel, errors.New(resp.Error))
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	return apperrors.Wrap(apperrors.CodeBridge, "decode "+channel+" result", unmarshal(resp.Result, out))
}

// serve is the privileged end: it decodes a request, runs the handler,
// and encodes its reply. Handler failures travel back as text.
func (b *Bridge) serve(ctx context.Context, payload []byte) ([]byte, error) {
	var req request
	if err := unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	b.mu.RLock()
	h, ok := b.handlers[req.Channel]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNoHandler
	}

	var resp response
	result, err := h(ctx, req.Args)
	if err != nil {
		b.log.WithError(err).WithField("channel", req.Channel).Warn("bridge handler failed")
		resp.Error = err.Error()
	} else if result != nil {
		encoded, err := marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		resp.Result = encoded
	}
	return marshal(resp)
}
