package warm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPRequester issues GET requests against a proxy base URL.
type HTTPRequester struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRequester creates a requester for the proxy at baseURL. A nil
// client uses http.DefaultClient.
func NewHTTPRequester(baseURL string, httpClient *http.Client) (*HTTPRequester, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("proxy url must be http or https (got %q)", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPRequester{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Request fetches requestURI and discards the body. Any non-200 answer is
// an error; the proxy answers 200 for every upstream status it caches.
func (r *HTTPRequester) Request(ctx context.Context, requestURI string) error {
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+requestURI, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy returned %s", resp.Status)
	}
	return nil
}
