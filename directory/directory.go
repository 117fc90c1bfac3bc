// Package directory resolves wallet addresses to player display names via the
// external profile directory. Resolution failures never block a rental; the
// caller falls back to an abbreviated wallet.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Resolver maps a wallet address to a display name.
type Resolver interface {
	ResolveDisplayName(ctx context.Context, wallet string) (string, error)
}

// HTTPResolver queries the directory service over HTTP.
type HTTPResolver struct {
	baseURL string
	http    *http.Client
}

// NewHTTPResolver constructs a resolver against the directory base URL.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// ResolveDisplayName fetches the profile for the wallet and returns its
// display name.
func (r *HTTPResolver) ResolveDisplayName(ctx context.Context, wallet string) (string, error) {
	trimmed := strings.TrimSpace(wallet)
	if trimmed == "" {
		return "", fmt.Errorf("directory: wallet required")
	}
	endpoint := r.baseURL + "/profiles/" + url.PathEscape(trimmed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("directory: profile lookup failed: status=%d", resp.StatusCode)
	}
	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", err
	}
	return strings.TrimSpace(profile.DisplayName), nil
}

// StaticResolver serves display names from a fixed map. For tests and dev.
type StaticResolver map[string]string

// ResolveDisplayName returns the mapped name, or empty when unknown.
func (s StaticResolver) ResolveDisplayName(_ context.Context, wallet string) (string, error) {
	return s[wallet], nil
}
