package publisher

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// HTTPOptions configures the HTTP publisher
type HTTPOptions struct {
	URL           string
	Method        string
	ContentType   string
	Headers       map[string]string
	Timeout       time.Duration
	Rate          float64 // requests per second, 0 for unlimited
	FaultOnStatus int     // lowest status reported as a fault, 0 keeps the default, negative disables
	UserAgent     string
}

// DefaultHTTPOptions returns sensible defaults
func DefaultHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		Method:        fasthttp.MethodPost,
		ContentType:   "application/octet-stream",
		Timeout:       10 * time.Second,
		FaultOnStatus: fasthttp.StatusInternalServerError,
		UserAgent:     "fluxcore/1.0",
	}
}

// HTTP sends every output as a request body and serves the last response
// body as input
type HTTP struct {
	client  *fasthttp.Client
	limiter *rate.Limiter
	opts    HTTPOptions

	mu   sync.Mutex
	last []byte
}

// NewHTTP creates an HTTP publisher
func NewHTTP(opts *HTTPOptions) (*HTTP, error) {
	o := *DefaultHTTPOptions()
	if opts != nil {
		if opts.URL != "" {
			o.URL = opts.URL
		}
		if opts.Method != "" {
			o.Method = opts.Method
		}
		if opts.ContentType != "" {
			o.ContentType = opts.ContentType
		}
		if opts.Timeout > 0 {
			o.Timeout = opts.Timeout
		}
		if opts.UserAgent != "" {
			o.UserAgent = opts.UserAgent
		}
		if opts.FaultOnStatus != 0 {
			o.FaultOnStatus = opts.FaultOnStatus
		}
		o.Headers = opts.Headers
		o.Rate = opts.Rate
	}
	if o.URL == "" {
		return nil, errdefs.Config("publisher Http", "url is required")
	}
	if o.Rate < 0 {
		return nil, errdefs.Config("publisher Http", "rate must not be negative")
	}

	limit := rate.Inf
	if o.Rate > 0 {
		limit = rate.Limit(o.Rate)
	}

	return &HTTP{
		client: &fasthttp.Client{
			ReadTimeout:  o.Timeout,
			WriteTimeout: o.Timeout,
			TLSConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		opts:    o,
	}, nil
}

// Open clears the last response
func (p *HTTP) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = nil
	return nil
}

// Output sends data as one request. Connection failures and fault statuses
// are returned as TargetErrors.
func (p *HTTP) Output(ctx context.Context, data []byte) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.opts.URL)
	req.Header.SetMethod(p.opts.Method)
	req.Header.SetUserAgent(p.opts.UserAgent)
	req.Header.SetContentType(p.opts.ContentType)
	for key, value := range p.opts.Headers {
		req.Header.Set(key, value)
	}
	req.SetBody(data)

	if err := p.client.DoTimeout(req, resp, p.opts.Timeout); err != nil {
		return &TargetError{Op: "output", Unreachable: true, Err: err}
	}

	// must copy, the response buffer is reused
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	p.mu.Lock()
	p.last = body
	p.mu.Unlock()

	if code := resp.StatusCode(); p.opts.FaultOnStatus > 0 && code >= p.opts.FaultOnStatus {
		return &TargetError{Op: "output", Err: fmt.Errorf("status %d", code)}
	}
	return nil
}

// Input returns the body of the last response
func (p *HTTP) Input(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		return nil, ErrNoInput
	}
	return p.last, nil
}

// Close closes idle connections
func (p *HTTP) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
