// Package pushclient is the counterpart side of the push-endpoint
// integration: it builds a client from the record published by the
// pushgateway operator and forwards individual metric samples to the
// workload's push endpoint.
//
// It follows the simple text API for a single metric without labels:
//
//	POST <endpoint>metrics/job/<job>
//	name value\n
package pushclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// ErrNotReady means the push-endpoint record has not been published yet, or
// is missing its URL. The caller should retry once the integration has
// settled.
var ErrNotReady = errors.New("push endpoint is not ready")

const defaultJob = "default"

type Client struct {
	endpoint string
	job      string
	http     *http.Client
}

type Option func(*Client)

// WithJob sets the job name under which samples are grouped.
func WithJob(job string) Option {
	return func(c *Client) {
		c.job = job
	}
}

// WithHTTPClient replaces the transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithInsecureTLS skips server certificate verification.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.http = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
}

// New returns a client that pushes to the given endpoint URL.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, ErrNotReady
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid push endpoint %q: %w", endpoint, err)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	c := &Client{
		endpoint: endpoint,
		job:      defaultJob,
		http:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromRecord builds a client from a push-endpoint integration record.
func NewFromRecord(record map[string]string, opts ...Option) (*Client, error) {
	if record == nil {
		return nil, ErrNotReady
	}
	return New(record["url"], opts...)
}

// SendMetric forwards one metric sample to the push endpoint.
func (c *Client) SendMetric(ctx context.Context, name string, value float64) error {
	if err := validateName(name); err != nil {
		return err
	}

	body := name + " " + strconv.FormatFloat(value, 'g', -1, 64) + "\n"
	postURL := c.endpoint + "metrics/job/" + url.PathEscape(c.job)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pushing metric: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	return nil
}

// StatusError is a non-2xx response from the push endpoint.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("push endpoint returned status %d", e.Code)
	}
	return fmt.Sprintf("push endpoint returned status %d: %s", e.Code, e.Detail)
}

func validateName(name string) error {
	if name == "" {
		return errors.New("the metric name must be a non-empty ASCII string")
	}
	for _, r := range name {
		if r > unicode.MaxASCII {
			return errors.New("the metric name must be a non-empty ASCII string")
		}
		if unicode.IsSpace(r) {
			return errors.New("the metric name cannot contain spaces")
		}
	}
	return nil
}
