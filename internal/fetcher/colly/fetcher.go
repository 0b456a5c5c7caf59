// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Limiter, when set, paces requests before they leave the collector.
	Limiter WaitPolicy
}

// WaitPolicy blocks until the caller may fetch the given URL.
// *ratelimit.Limiter satisfies it.
type WaitPolicy interface {
	Wait(ctx context.Context, url string) error
}

const defaultTimeout = 15 * time.Second

// Fetcher implements catalog.Fetcher using the Colly collector. All fetches go
// through a shared cookie session so forum authentication survives across
// pages and collector clones.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	session       *Session
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher around a pooled transport and a fresh cookie session.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Every scrape job revisits the same listing URLs.
	c.AllowURLRevisit = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	session := NewSession()
	c.SetCookieJar(session.Jar())

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		session:       session,
	}
}

// Session exposes the shared cookie session for login bootstrapping.
func (f *Fetcher) Session() *Session {
	return f.session
}

// Fetch executes a single HTTP GET using Colly. HTTP-level failures come back
// as catalog.FetchError with the transient/permanent classification applied;
// transport failures without a status code classify as transient.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return catalog.FetchResponse{}, err
		}
	}

	var (
		result   catalog.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return catalog.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = classifyHTTPError(request.URL, r.StatusCode, err)
			return
		}
		*fetchErr = catalog.TransientFetchError(request.URL, 0, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return catalog.TransientFetchError(url, 0, err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request catalog.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func classifyHTTPError(url string, status int, err error) error {
	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}
	if catalog.ClassifyStatus(status) == catalog.FetchTransient {
		return catalog.TransientFetchError(url, status, err)
	}
	return catalog.PermanentFetchError(url, status, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
