package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/internal/service/cache"
	xhttp "RegimeDuel/pkg/http"
)

// HTTPFeed polls the sensor's REST API. Specs and ATR change slowly and are
// cached; regime signals are always fetched.
type HTTPFeed struct {
	client     *xhttp.Client
	baseURL    string
	limiter    *rate.Limiter
	cache      *cache.TTLCache
	specTTL    time.Duration
	atrTTL     time.Duration
	maxRetries uint64
	now        func() time.Time
}

// HTTPFeedOption configures HTTPFeed.
type HTTPFeedOption func(*HTTPFeed)

// WithCacheTTL sets how long specs and ATR values are reused.
func WithCacheTTL(spec, atr time.Duration) HTTPFeedOption {
	return func(f *HTTPFeed) {
		f.specTTL = spec
		f.atrTTL = atr
	}
}

// WithMaxRetries bounds retries of transient failures.
func WithMaxRetries(n uint64) HTTPFeedOption {
	return func(f *HTTPFeed) {
		f.maxRetries = n
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) HTTPFeedOption {
	return func(f *HTTPFeed) {
		if rps > 0 && burst > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func NewHTTPFeed(client *xhttp.Client, baseURL string, opts ...HTTPFeedOption) *HTTPFeed {
	f := &HTTPFeed{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(50), 50),
		cache:      cache.NewTTLCache(),
		specTTL:    30 * time.Second,
		atrTTL:     time.Minute,
		maxRetries: 3,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StatusError is a non-2xx answer from the sensor API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sensor api status %d: %s", e.StatusCode, e.Body)
}

func (f *HTTPFeed) GetRegimeSignal(ctx context.Context, instrument string) (models.RegimeSignal, error) {
	var m models.SignalMessage
	if err := f.get(ctx, instrument, "signal", &m); err != nil {
		return models.RegimeSignal{}, err
	}
	if m.Instrument == "" {
		m.Instrument = instrument
	}
	return m.Signal(f.now())
}

func (f *HTTPFeed) GetSpec(ctx context.Context, instrument string) (models.InstrumentSpec, error) {
	key := "spec:" + instrument
	if v, ok := f.cache.Get(key); ok {
		return v.(models.InstrumentSpec), nil
	}
	var s models.InstrumentSpec
	if err := f.get(ctx, instrument, "spec", &s); err != nil {
		return models.InstrumentSpec{}, err
	}
	if s.Instrument == "" {
		s.Instrument = instrument
	}
	if !s.Valid() {
		return models.InstrumentSpec{}, fmt.Errorf("spec %s: %w", instrument, models.ErrInvalidInput)
	}
	f.cache.Set(key, s, f.specTTL)
	return s, nil
}

func (f *HTTPFeed) GetATR(ctx context.Context, instrument string) (float64, error) {
	key := "atr:" + instrument
	if v, ok := f.cache.Get(key); ok {
		return v.(float64), nil
	}
	var m models.ATRMessage
	if err := f.get(ctx, instrument, "atr", &m); err != nil {
		return 0, err
	}
	if m.ATR <= 0 {
		return 0, fmt.Errorf("atr %s=%v: %w", instrument, m.ATR, models.ErrInvalidInput)
	}
	f.cache.Set(key, m.ATR, f.atrTTL)
	return m.ATR, nil
}

// get fetches {base}/v1/instruments/{instrument}/{resource}. Transport errors
// and 5xx/429 answers are retried with exponential backoff; other statuses are final.
func (f *HTTPFeed) get(ctx context.Context, instrument, resource string, dest interface{}) error {
	u := fmt.Sprintf("%s/v1/instruments/%s/%s", f.baseURL, url.PathEscape(instrument), resource)
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.SendRequest(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodGet,
			URL:     u,
			Headers: map[string]string{"Accept": "application/json"},
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return serr
			}
			return backoff.Permanent(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", resource, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx)); err != nil {
		return fmt.Errorf("sensor %s %s: %w", resource, instrument, err)
	}
	return nil
}

var _ drepo.MarketDataFeed = (*HTTPFeed)(nil)
