package httpclient

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for outbound provider API calls. Retries are
// deliberately disabled: a timed-out charge attempt must surface as an
// unknown outcome, not be silently re-sent.
type Client struct {
	r *resty.Client
}

func New() *Client {
	r := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(0)

	return &Client{r: r}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.r.SetTimeout(d)
	}
	return c
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	c.r.SetBaseURL(baseURL)
	return c
}

func (c *Client) WithBearerToken(token string) *Client {
	c.r.SetAuthToken(token)
	return c
}

func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// Response carries the status code alongside the body so callers can tell
// a provider rejection apart from a malformed success.
type Response struct {
	StatusCode int
	Body       []byte
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	resp, err := c.r.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

func (c *Client) PostWithHeaders(ctx context.Context, path string, body interface{}, headers map[string]string) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

func (c *Client) PostForm(ctx context.Context, path string, data map[string]string) (*Response, error) {
	resp, err := c.r.R().SetContext(ctx).SetFormData(data).Post(path)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// IsTimeout reports whether err is a deadline or network timeout, the cases
// where the request may have reached the provider without an answer coming
// back.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
