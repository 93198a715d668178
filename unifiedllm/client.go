package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler performs one completion.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps a provider call. next invokes the rest of the chain.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests to a registered ProviderAdapter through a fixed
// middleware chain. Middleware registered first sees the request first.
type Client struct {
	mu              sync.RWMutex
	providers       map[string]ProviderAdapter
	defaultProvider string

	middleware []Middleware
	handler    Handler
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.providers[name] = adapter }
}

// WithDefaultProvider names the provider used when a request has none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithMiddleware appends middleware to the chain.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// NewClient creates a Client. With a single provider and no explicit
// default, that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	c.handler = chain(c.middleware, c.dispatch)
	return c
}

// chain folds mws around final so that mws[0] is outermost.
func chain(mws []Middleware, final Handler) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, req Request) (*Response, error) {
			return mw(ctx, req, next)
		}
	}
	return h
}

// RegisterProvider adds or replaces an adapter after construction.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Providers lists the registered provider names in sorted order.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup resolves name, or the default when name is empty, to its
// registry key and adapter.
func (c *Client) lookup(name string) (string, ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return "", nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return "", nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return name, adapter, nil
}

func (c *Client) dispatch(ctx context.Context, req Request) (*Response, error) {
	_, adapter, err := c.lookup(req.Provider)
	if err != nil {
		return nil, err
	}
	return adapter.Complete(ctx, req)
}

// Complete sends one request. The provider name is filled in before the
// middleware runs so every layer can log it. Complete does not retry.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	name, _, err := c.lookup(req.Provider)
	if err != nil {
		return nil, err
	}
	req.Provider = name
	return c.handler(ctx, req)
}

// Close closes every adapter that implements Closer and joins their errors.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
