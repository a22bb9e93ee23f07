// Package dimo talks to the DIMO vehicle registry and permission APIs. It is
// the only oracle the scoring pipeline consults: which vehicles a wallet has
// registered and whether this DLP holds delegated access to each of them.
package dimo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/dlplabs/proof-service/internal/httputil"
	"github.com/dlplabs/proof-service/pkg/logger"
)

// ErrUnavailable marks a transport or server failure talking to the oracle.
// It is distinct from an access denial, which is a successful oracle answer
// and surfaces as Access.Granted=false.
var ErrUnavailable = errors.New("permission oracle unavailable")

// defaultPrivileges is the fixed privilege set requested on every token
// exchange. A successful exchange for these privileges is the access proof.
var defaultPrivileges = []int{1, 2, 3, 4, 5, 6}

const (
	defaultAuthURL          = "https://auth.dimo.zone/auth/web3/token"
	defaultIdentityURL      = "https://identity-api.dimo.zone/query"
	defaultTokenExchangeURL = "https://token-exchange-api.dimo.zone/v1/tokens/exchange"

	// Refresh the developer token when it is within this margin of expiry.
	tokenExpiryMargin = 5 * time.Minute

	vehicleCacheTTL = 5 * time.Minute
)

// Config holds oracle client configuration.
type Config struct {
	AuthURL          string
	IdentityURL      string
	TokenExchangeURL string
	ClientID         string
	Domain           string
	APIKey           string
	Timeout          time.Duration
}

// Vehicle is one registered device owned by a wallet.
type Vehicle struct {
	TokenID uint64 `json:"tokenId"`
	Address string `json:"address"`
	Make    string `json:"make"`
	Model   string `json:"model"`
	Year    int    `json:"year"`
}

// Access is the oracle's answer for a single device.
type Access struct {
	Granted bool
	Detail  string
}

// Client queries the DIMO identity and token-exchange APIs. The developer
// token cache is shared across goroutines; refresh is guarded by a
// single-flight group so concurrent callers do not race to re-authenticate.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
	cache      *redis.Client // optional vehicle-list cache

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

// NewClient creates an oracle client. cache may be nil.
func NewClient(cfg Config, cache *redis.Client, log *logger.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle client_id and api key are required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = defaultIdentityURL
	}
	if cfg.TokenExchangeURL == "" {
		cfg.TokenExchangeURL = defaultTokenExchangeURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("dimo")
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		cache:      cache,
	}, nil
}

// ListVehicles returns the wallet's registered vehicles that carry a real
// device. Placeholder entries with a zero token id are filtered out.
func (c *Client) ListVehicles(ctx context.Context, walletAddress string) ([]Vehicle, error) {
	if cached, ok := c.cachedVehicles(ctx, walletAddress); ok {
		return cached, nil
	}

	query := map[string]interface{}{
		"query": `query Vehicles($owner: Address!) {
  vehicles(filterBy: {owner: $owner}, first: 10) {
    nodes {
      aftermarketDevice { tokenId address }
      syntheticDevice { tokenId address }
      definition { make model year }
    }
  }
}`,
		"variables": map[string]string{"owner": walletAddress},
	}

	var response struct {
		Data struct {
			Vehicles struct {
				Nodes []struct {
					AftermarketDevice *struct {
						TokenID uint64 `json:"tokenId"`
						Address string `json:"address"`
					} `json:"aftermarketDevice"`
					SyntheticDevice *struct {
						TokenID uint64 `json:"tokenId"`
						Address string `json:"address"`
					} `json:"syntheticDevice"`
					Definition struct {
						Make  string `json:"make"`
						Model string `json:"model"`
						Year  int    `json:"year"`
					} `json:"definition"`
				} `json:"nodes"`
			} `json:"vehicles"`
		} `json:"data"`
	}

	if err := c.postJSON(ctx, c.cfg.IdentityURL, "", query, &response); err != nil {
		return nil, fmt.Errorf("%w: list vehicles: %v", ErrUnavailable, err)
	}

	vehicles := make([]Vehicle, 0, len(response.Data.Vehicles.Nodes))
	for _, node := range response.Data.Vehicles.Nodes {
		v := Vehicle{
			Make:  node.Definition.Make,
			Model: node.Definition.Model,
			Year:  node.Definition.Year,
		}
		switch {
		case node.AftermarketDevice != nil:
			v.TokenID = node.AftermarketDevice.TokenID
			v.Address = node.AftermarketDevice.Address
		case node.SyntheticDevice != nil:
			v.TokenID = node.SyntheticDevice.TokenID
			v.Address = node.SyntheticDevice.Address
		}
		if v.TokenID == 0 {
			continue
		}
		vehicles = append(vehicles, v)
	}

	c.storeVehicles(ctx, walletAddress, vehicles)
	return vehicles, nil
}

// CheckAccess exchanges the developer token for a vehicle-scoped token. A
// successful exchange proves delegated access; a rejected exchange means no
// access. Only transport failures surface as errors.
func (c *Client) CheckAccess(ctx context.Context, tokenID uint64) (Access, error) {
	token, err := c.developerToken(ctx)
	if err != nil {
		return Access{}, err
	}

	body := map[string]interface{}{
		"tokenId":    tokenID,
		"privileges": defaultPrivileges,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Access{}, fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenExchangeURL, bytes.NewReader(payload))
	if err != nil {
		return Access{}, fmt.Errorf("create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Access{}, fmt.Errorf("%w: token exchange: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Access{Granted: true}, nil
	}

	detail, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, 4<<10)
	if readErr != nil {
		detail = []byte("unreadable response body")
	}
	msg := string(detail)
	if truncated {
		msg += "...(truncated)"
	}
	c.log.WithField("token_id", tokenID).
		WithField("status", resp.StatusCode).
		Debugf("token exchange denied: %s", msg)

	return Access{Granted: false, Detail: fmt.Sprintf("exchange rejected with status %d", resp.StatusCode)}, nil
}

func (c *Client) postJSON(ctx context.Context, url, bearer string, body, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	return httputil.DecodeResponse(resp, target)
}

func (c *Client) cachedVehicles(ctx context.Context, walletAddress string) ([]Vehicle, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, vehicleCacheKey(walletAddress)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Warn("vehicle cache read failed")
		}
		return nil, false
	}
	var vehicles []Vehicle
	if err := json.Unmarshal(raw, &vehicles); err != nil {
		return nil, false
	}
	return vehicles, true
}

func (c *Client) storeVehicles(ctx context.Context, walletAddress string, vehicles []Vehicle) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(vehicles)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, vehicleCacheKey(walletAddress), raw, vehicleCacheTTL).Err(); err != nil {
		c.log.WithError(err).Warn("vehicle cache write failed")
	}
}

func vehicleCacheKey(walletAddress string) string {
	return "dimo:vehicles:" + walletAddress
}
