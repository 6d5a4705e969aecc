package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// The usage endpoint mirrors what the assistant's own /usage command reads.
// It is not officially documented, so every failure here is treated as
// transient and non-fatal.
const (
	usageURL       = "https://api.anthropic.com/api/oauth/usage"
	betaHeader     = "oauth-2025-04-20"
	upstreamUA     = "wise-magpie"
	syncTimeout    = 10 * time.Second
	credsFileName  = ".credentials.json"
	credsDirName   = ".claude"
)

// ErrNoCredentials indicates the assistant credentials file is missing or
// holds no token.
var ErrNoCredentials = errors.New("assistant credentials not found")

// Snapshot holds parsed utilization percentages from upstream.
type Snapshot struct {
	FiveHourPct   float64
	WeekAllPct    *float64
	WeekSonnetPct *float64
	ResetsAt      *time.Time
}

// Syncer fetches upstream quota utilization and applies it as corrections.
type Syncer struct {
	client    *http.Client
	credsPath string
	url       string
	log       *slog.Logger
}

// NewSyncer creates a syncer reading the default assistant credentials.
func NewSyncer(log *slog.Logger) *Syncer {
	home, _ := os.UserHomeDir()
	return &Syncer{
		client:    &http.Client{Timeout: syncTimeout},
		credsPath: filepath.Join(home, credsDirName, credsFileName),
		url:       usageURL,
		log:       log,
	}
}

func (s *Syncer) token() (string, error) {
	data, err := os.ReadFile(s.credsPath)
	if err != nil {
		return "", ErrNoCredentials
	}
	var creds struct {
		OAuth struct {
			AccessToken string `json:"accessToken"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	if creds.OAuth.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return creds.OAuth.AccessToken, nil
}

// Fetch retrieves the current utilization snapshot.
func (s *Syncer) Fetch(ctx context.Context) (*Snapshot, error) {
	tok, err := s.token()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", upstreamUA)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch usage: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		FiveHour struct {
			Utilization float64 `json:"utilization"`
			ResetsAt    string  `json:"resets_at"`
		} `json:"five_hour"`
		SevenDay struct {
			Utilization *float64 `json:"utilization"`
		} `json:"seven_day"`
		SevenDaySonnet struct {
			Utilization *float64 `json:"utilization"`
		} `json:"seven_day_sonnet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode usage response: %w", err)
	}

	snap := &Snapshot{
		FiveHourPct:   body.FiveHour.Utilization,
		WeekAllPct:    body.SevenDay.Utilization,
		WeekSonnetPct: body.SevenDaySonnet.Utilization,
	}
	if body.FiveHour.ResetsAt != "" {
		if t, err := time.Parse(time.RFC3339, body.FiveHour.ResetsAt); err == nil {
			snap.ResetsAt = &t
		}
	}
	return snap, nil
}

// Sync fetches the upstream snapshot and applies the five-hour utilization
// as an authoritative correction to every tier.
func (s *Syncer) Sync(ctx context.Context, acct *Accountant) (*Snapshot, error) {
	snap, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	pct := snap.FiveHourPct
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	for _, model := range models.Tiers {
		limit := acct.cfg.QuotaLimit(model)
		consumed := int(pct / 100 * float64(limit))
		remaining := acct.autonomousLimit(model) - consumed
		if remaining < 0 {
			remaining = 0
		}
		if err := acct.Correct(model, remaining); err != nil {
			return nil, fmt.Errorf("apply correction for %s: %w", model, err)
		}
	}
	s.log.Info("quota synced from upstream", "five_hour_pct", snap.FiveHourPct)
	return snap, nil
}
