package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPSink posts events as JSON to a collector endpoint, retrying on 5xx and transport errors.
type HTTPSink struct {
	url  string
	http *fasthttp.Client

	headers        func() map[string]string
	defaultTimeout time.Duration
	retryMax       int
}

type HTTPOption func(*HTTPSink)

func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSink) { s.defaultTimeout = d }
}

func WithRetry(max int) HTTPOption {
	return func(s *HTTPSink) { s.retryMax = max }
}

func WithHeaders(h func() map[string]string) HTTPOption {
	return func(s *HTTPSink) { s.headers = h }
}

// WithDial overrides the client's dialer (used by tests with an in-memory listener).
func WithDial(dial fasthttp.DialFunc) HTTPOption {
	return func(s *HTTPSink) { s.http.Dial = dial }
}

func NewHTTPSink(url string, opts ...HTTPOption) *HTTPSink {
	s := &HTTPSink{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 3 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSink) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.url)
	req.Header.SetContentType("application/json")
	if s.headers != nil {
		for k, v := range s.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	attempts := s.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.http.DoDeadline(req, resp, s.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("analytics collector: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if !shouldRetryStatus(status) {
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (s *HTTPSink) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(s.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<uint(attempt-1)) * 50 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
