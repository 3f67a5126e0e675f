package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nhle/azure-tracker/internal/source"
)

// APIVersion is the REST API version sent with every request.
const APIVersion = "7.1"

// DefaultHost is the Azure DevOps Services host.
const DefaultHost = "https://dev.azure.com"

// Client is a thin HTTP client for the Azure DevOps REST API.
// It handles Basic authentication with a personal access token, JSON
// marshaling and request pacing. Requests are never retried.
type Client struct {
	organization string
	baseURL      string
	token        string
	httpClient   *http.Client
	limiter      *rate.Limiter
	log          logrus.FieldLogger
	observe      func(op string, statusCode int)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL replaces https://dev.azure.com/<organization> as the root of
// every request and detail link.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit paces outbound requests to rps per second. A non-positive
// rps leaves requests unpaced.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRequestObserver registers a callback invoked after every request with
// the operation name and the response status (0 on transport failure).
func WithRequestObserver(fn func(op string, statusCode int)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient creates a client for the given organization. The token is a
// Personal Access Token sent as the Basic auth password.
func NewClient(organization, token string, opts ...Option) *Client {
	c := &Client{
		organization: organization,
		baseURL:      DefaultHost + "/" + url.PathEscape(organization),
		token:        token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WebURL returns the organization root used for detail links.
func (c *Client) WebURL() string {
	return c.baseURL
}

// Response is a successful HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContinuationToken returns the paging token of a list response, if any.
func (r *Response) ContinuationToken() string {
	return r.Header.Get("X-Ms-Continuationtoken")
}

// Get performs an HTTP GET request. op names the calling operation and is
// carried by any returned error.
func (c *Client) Get(
	ctx context.Context,
	op string,
	path string,
	query url.Values,
) (*Response, error) {
	return c.do(ctx, op, http.MethodGet, path, query, nil)
}

// Post performs an HTTP POST request with a JSON body.
func (c *Client) Post(
	ctx context.Context,
	op string,
	path string,
	query url.Values,
	body interface{},
) (*Response, error) {
	return c.do(ctx, op, http.MethodPost, path, query, body)
}

// do builds the request, applies auth and pacing, and converts any non-2xx
// response into a *source.RequestError.
func (c *Client) do(
	ctx context.Context,
	op string,
	method string,
	path string,
	query url.Values,
	body interface{},
) (*Response, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", APIVersion)
	fullURL := c.baseURL + path + "?" + encodeQuery(query)

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request body: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}

	req.Header.Set("Authorization", basicAuth(c.token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.WithFields(logrus.Fields{"op": op, "method": method}).Debug(fullURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(op, 0)
		return nil, fmt.Errorf("%s: executing request %s %s: %w", op, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(op, resp.StatusCode)
		return nil, fmt.Errorf("%s: reading response body: %w", op, err)
	}
	c.record(op, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &source.AuthError{
			Organization: c.organization,
			Message: fmt.Sprintf(
				"authentication failed (401) in %s: check your "+
					"Personal Access Token for %s", op, c.baseURL,
			),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &source.RequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) record(op string, statusCode int) {
	if c.observe != nil {
		c.observe(op, statusCode)
	}
}

// basicAuth encodes an empty user name with the token as password.
func basicAuth(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+token))
}

// encodeQuery is url.Values.Encode without escaping the '$' of OData
// parameters such as $top and $skip.
func encodeQuery(q url.Values) string {
	return strings.ReplaceAll(q.Encode(), "%24", "$")
}
