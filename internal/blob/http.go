package blob

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPFetcher downloads refs over HTTP. A ref that is already an absolute
// URL is used as-is; anything else is resolved against the base URL.
type HTTPFetcher struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	c := resty.New().SetTimeout(2 * time.Minute)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPFetcher{client: c, baseURL: strings.TrimRight(baseURL, "/")}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = f.baseURL + "/" + strings.TrimLeft(ref, "/")
	}

	resp, err := f.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", ref, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return nil, fmt.Errorf("downloading %s: unexpected status %d", ref, resp.StatusCode())
	}
	return resp.Body(), nil
}
