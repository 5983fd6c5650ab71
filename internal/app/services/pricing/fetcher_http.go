package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPFetcher pulls prices from a JSON price API. The URL template receives
// the token symbol and the gjson path selects the price field, so switching
// providers is configuration, not code.
type HTTPFetcher struct {
	urlTemplate string
	jsonPath    string
	httpClient  *http.Client
}

// NewHTTPFetcher builds a fetcher. urlTemplate must contain a single %s verb
// for the token symbol; jsonPath is a gjson path to the USD price.
func NewHTTPFetcher(urlTemplate, jsonPath string, timeout time.Duration) (*HTTPFetcher, error) {
	if !strings.Contains(urlTemplate, "%s") {
		return nil, fmt.Errorf("price url template must contain %%s for the token symbol")
	}
	if jsonPath == "" {
		return nil, fmt.Errorf("price json path required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		urlTemplate: urlTemplate,
		jsonPath:    jsonPath,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

func (f *HTTPFetcher) Fetch(ctx context.Context, token string) (float64, error) {
	url := fmt.Sprintf(f.urlTemplate, strings.ToLower(token))

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read price response: %w", err)
	}

	result := gjson.GetBytes(body, f.jsonPath)
	if !result.Exists() {
		return 0, fmt.Errorf("price path %q missing in response", f.jsonPath)
	}
	price := result.Float()
	if price <= 0 {
		return 0, fmt.Errorf("price api returned non-positive price %v", price)
	}
	return price, nil
}
