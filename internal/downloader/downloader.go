package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	"github.com/docker/go-units"
	"github.com/facebookgo/clock"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/spf13/afero"

	"github.com/frederic-klein/collie/internal/dist"
)

// ErrNotFound is returned when the locator does not exist. It is a transport
// error; callers that treat absence as a valid result check it first.
var ErrNotFound = fmt.Errorf("%w: not found", dist.ErrTransport)

const defaultUserAgent = "collie/1.0"

// Downloader fetches archives and metadata from http(s) URLs or local paths.
// It never retries; a host that keeps failing trips its circuit breaker and
// further requests to it fail fast.
type Downloader struct {
	fs        afero.Fs
	client    *http.Client
	userAgent string
	threshold int64
	logger    *log.Logger

	breakerClock   clock.Clock
	breakerBackOff func() backoff.BackOff

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Downloader) {
		d.logger = l
	}
}

// WithFailureThreshold sets how many consecutive failures trip a host's breaker.
func WithFailureThreshold(n int64) Option {
	return func(d *Downloader) {
		d.threshold = n
	}
}

// WithBreakerClock sets the clock the circuit breakers time their reset with.
func WithBreakerClock(c clock.Clock) Option {
	return func(d *Downloader) {
		d.breakerClock = c
	}
}

// WithBreakerBackOff sets how long a tripped breaker waits before letting a
// trial request through. newBackOff is called once per host.
func WithBreakerBackOff(newBackOff func() backoff.BackOff) Option {
	return func(d *Downloader) {
		d.breakerBackOff = newBackOff
	}
}

// NewDownloader creates a downloader writing to fs.
func NewDownloader(fs afero.Fs, opts ...Option) *Downloader {
	d := &Downloader{
		fs:        fs,
		client:    newHTTPClient(),
		userAgent: defaultUserAgent,
		threshold: 3,
		logger:    log.New(io.Discard),
		breakers:  make(map[string]*circuit.Breaker),

		breakerBackOff: defaultBreakerBackOff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newHTTPClient() *http.Client {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				return nil, fmt.Errorf("dialing %s: %w", addr, lastErr)
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Open returns a reader for locator: an http(s) URL or a path on the
// downloader's filesystem. The caller must close it.
func (d *Downloader) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if !dist.IsURL(locator) {
		f, err := d.fs.Open(locator)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("opening %s: %w", locator, ErrNotFound)
			}
			return nil, fmt.Errorf("%w: opening %s: %w", dist.ErrTransport, locator, err)
		}
		return f, nil
	}

	host := hostOf(locator)
	breaker := d.breaker(host)

	var (
		body     io.ReadCloser
		notFound bool
	)
	err := breaker.Call(func() error {
		var getErr error
		body, getErr = d.get(ctx, locator)
		if errors.Is(getErr, ErrNotFound) {
			notFound = true
			return nil
		}
		return getErr
	}, 0)

	switch {
	case errors.Is(err, circuit.ErrBreakerOpen):
		return nil, fmt.Errorf("%w: circuit breaker open for %s", dist.ErrTransport, host)
	case err != nil:
		return nil, err
	case notFound:
		return nil, fmt.Errorf("GET %s: %w", locator, ErrNotFound)
	}
	return body, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", dist.ErrTransport, rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: HTTP %d", dist.ErrTransport, rawURL, resp.StatusCode)
	}
}

// Download copies locator to destPath through a temporary file in the same
// directory, so destPath is either complete or absent.
func (d *Downloader) Download(ctx context.Context, locator, destPath string) (int64, error) {
	src, err := d.Open(ctx, locator)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dir := filepath.Dir(destPath)
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := afero.TempFile(d.fs, dir, filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = d.fs.Remove(tmpPath)
		return 0, fmt.Errorf("%w: writing %s: %w", dist.ErrTransport, destPath, err)
	}

	if err := d.fs.Rename(tmpPath, destPath); err != nil {
		_ = d.fs.Remove(tmpPath)
		return 0, fmt.Errorf("renaming file: %w", err)
	}

	d.logger.Debug("downloaded", "from", locator, "to", destPath, "size", units.HumanSize(float64(n)))
	return n, nil
}

func (d *Downloader) breaker(host string) *circuit.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.breakers[host]; ok {
		return b
	}

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    d.breakerBackOff(),
		Clock:      d.breakerClock,
		ShouldTrip: circuit.ThresholdTripFunc(d.threshold),
	})
	d.breakers[host] = b
	return b
}

func defaultBreakerBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = time.Minute
	b.Reset()
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
