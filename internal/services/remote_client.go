package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stashd/internal/models"
)

// RemoteClient talks to the remote asset API over HTTP. It is the production
// AssetFetcher behind the fetch queue, with connection pooling tuned for many
// small requests against a single host and a client-side rate limit so a
// burst of change events cannot hammer the upstream.
type RemoteClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
	limiter    *rate.Limiter
}

// NewRemoteClient creates a client for the asset API at baseURL. The API key
// may be empty for unauthenticated deployments.
func NewRemoteClient(baseURL, apiKey string) *RemoteClient {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20, // default is 2, far too low for batched fetches
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &RemoteClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		userAgent: "stashd/1.0",
		limiter:   rate.NewLimiter(rate.Limit(20), 40), // 20 req/s, burst 40
	}
}

// Fetch retrieves one asset by id.
func (c *RemoteClient) Fetch(ctx context.Context, id string) (models.Asset, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Asset{}, err
	}

	endpoint := fmt.Sprintf("%s/assets/%s", c.baseURL, url.PathEscape(id))
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return models.Asset{}, err
	}

	var asset models.Asset
	if err := json.Unmarshal(body, &asset); err != nil {
		return models.Asset{}, fmt.Errorf("failed to decode asset %s: %w", id, err)
	}
	if asset.ID == "" {
		asset.ID = id
	}
	return asset, nil
}

// ListIDs retrieves the full live id set, used as a fallback reconcile path
// when the change feed is down for an extended period.
func (c *RemoteClient) ListIDs(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, c.baseURL+"/assets")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Assets []string `json:"assets"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode asset list: %w", err)
	}
	return payload.Assets, nil
}

func (c *RemoteClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote returned %d for %s", resp.StatusCode, endpoint)
	}
	return body, nil
}
