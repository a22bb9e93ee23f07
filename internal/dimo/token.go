package dimo

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// developerToken returns a valid developer JWT, refreshing it when absent or
// within the expiry margin. Duplicate refreshes are harmless (the auth
// endpoint is idempotent) but wasteful, so concurrent callers share one
// in-flight request.
func (c *Client) developerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Until(c.tokenExpiry) > tokenExpiryMargin {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	result, err, _ := c.refresh.Do("developer-token", func() (interface{}, error) {
		return c.fetchDeveloperToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) fetchDeveloperToken(ctx context.Context) (string, error) {
	body := map[string]string{
		"client_id":   c.cfg.ClientID,
		"domain":      c.cfg.Domain,
		"private_key": c.cfg.APIKey,
	}

	var response struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.postJSON(ctx, c.cfg.AuthURL, "", body, &response); err != nil {
		return "", fmt.Errorf("%w: developer auth: %v", ErrUnavailable, err)
	}
	if response.AccessToken == "" {
		return "", fmt.Errorf("%w: developer auth returned empty token", ErrUnavailable)
	}

	expiry := tokenExpiry(response.AccessToken, response.ExpiresIn)

	c.mu.Lock()
	c.token = response.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()

	return response.AccessToken, nil
}

// tokenExpiry prefers the exp claim embedded in the JWT, falling back to the
// advertised expires_in and finally to a one hour default.
func tokenExpiry(token string, expiresIn int64) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(time.Hour)
}
