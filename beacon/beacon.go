// Package beacon fetches public randomness from a drand-style HTTP beacon.
package beacon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultURL is the drand mainnet latest-round endpoint (30s cadence).
const DefaultURL = "https://api.drand.sh/public/latest"

// Randomness is one beacon round.
type Randomness struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
}

// Fetcher is the capability the chain needs from a beacon. Kept narrow so
// tests can inject deterministic rounds.
type Fetcher interface {
	Fetch(ctx context.Context) (Randomness, error)
}

type Client struct {
	url     string
	timeout time.Duration
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{url: url, timeout: timeout}
}

// Fetch performs a single time-bounded GET against the beacon. No retries;
// callers absorb failure with a deterministic fallback.
func (c *Client) Fetch(ctx context.Context) (Randomness, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Randomness{}, errors.Wrap(err, "creating beacon request")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return Randomness{}, errors.Wrap(err, "getting beacon round")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Randomness{}, errors.Errorf("beacon returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Randomness{}, errors.Wrap(err, "reading beacon response body")
	}

	var randomness Randomness
	if err := json.Unmarshal(body, &randomness); err != nil {
		return Randomness{}, errors.Wrap(err, "unmarshalling beacon response")
	}

	return randomness, nil
}
