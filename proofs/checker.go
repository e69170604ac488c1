package proofs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacks-network/gaia-hub/interfaces"
)

const (
	profileFileName = "profile.json"

	// maxProfileSize caps how much of a profile document is read when
	// counting proofs.
	maxProfileSize = 1 << 20
)

// Config controls how many social proofs a bucket owner must present
// before writes are accepted. Zero disables checking entirely.
type Config struct {
	ProofsRequired int
}

// Checker verifies social proofs by fetching the bucket's published
// profile through the hub's own read URL and counting the accounts that
// carry a proof URL.
type Checker struct {
	proofsRequired int
	client         *http.Client
	log            *slog.Logger
}

// NewChecker creates a proof checker. A nil-safe zero requirement makes
// every check pass without network traffic.
func NewChecker(cfg *Config, log *slog.Logger) *Checker {
	return &Checker{
		proofsRequired: cfg.ProofsRequired,
		client:         &http.Client{Timeout: 30 * time.Second},
		log:            log,
	}
}

type profileAccount struct {
	Service  string `json:"service"`
	ProofURL string `json:"proofUrl"`
}

type profileClaim struct {
	Account []profileAccount `json:"account"`
}

type profileEntry struct {
	DecodedToken struct {
		Payload struct {
			Claim profileClaim `json:"claim"`
		} `json:"payload"`
	} `json:"decodedToken"`
}

// CheckProofs implements interfaces.ProofChecker. Writes of the profile
// itself are always allowed, otherwise no one could ever publish the
// proofs being demanded.
func (c *Checker) CheckProofs(ctx context.Context, address, path, readURLPrefix string) error {
	if c.proofsRequired <= 0 || path == profileFileName {
		return nil
	}

	count, err := c.fetchProofCount(ctx, address, readURLPrefix)
	if err != nil {
		c.log.Warn("Social proof lookup failed",
			slog.String("address", address),
			"err", err)
		return interfaces.NewNotEnoughProofError("could not verify social proofs for %s", address)
	}
	if count < c.proofsRequired {
		return interfaces.NewNotEnoughProofError("address %s has %d of %d required social proofs",
			address, count, c.proofsRequired)
	}
	return nil
}

func (c *Checker) fetchProofCount(ctx context.Context, address, readURLPrefix string) (int, error) {
	url := readURLPrefix + address + "/" + profileFileName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("profile fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize))
	if err != nil {
		return 0, fmt.Errorf("failed to read profile: %w", err)
	}

	var entries []profileEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	count := 0
	for _, account := range entries[0].DecodedToken.Payload.Claim.Account {
		if account.ProofURL != "" {
			count++
		}
	}
	return count, nil
}
