package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"seat-exchange-backend/config"
	"seat-exchange-backend/internal/exchange"
	"seat-exchange-backend/internal/model"
)

// Confirmer completes a locked match. *exchange.Engine satisfies it.
type Confirmer interface {
	ConfirmCompletion(ctx context.Context, matchID string) (model.Match, error)
}

// Service polls the registrar feed and confirms the hand-offs it reports.
type Service struct {
	cfg       config.RegistrarConfig
	confirmer Confirmer
	client    *http.Client
	log       *zap.Logger

	since time.Time // newest confirmedAt already applied
}

// Result summarizes one poll.
type Result struct {
	Fetched   int
	Confirmed int
	Skipped   int
}

// NewService creates a registrar poller.
func NewService(cfg config.RegistrarConfig, confirmer Confirmer, log *zap.Logger) *Service {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn("invalid registrar proxy URL; not using a proxy",
				zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	if cfg.Request.PageSize <= 0 {
		cfg.Request.PageSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	return &Service{
		cfg:       cfg,
		confirmer: confirmer,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		log: log,
	}
}

// Run polls in a loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("registrar poller is disabled; not starting")
		return
	}
	s.log.Info("starting registrar poller", zap.Duration("interval", s.cfg.Interval))

	s.PollOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("registrar poller shutting down")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PollOnce fetches every page of confirmations newer than the last poll and
// applies them. Matches the engine no longer holds, or that already left
// LOCKED, are skipped.
func (s *Service) PollOnce(ctx context.Context) Result {
	var res Result
	var items []FeedItem
	total := 1
	pageSize := s.cfg.Request.PageSize
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			s.log.Error("failed to fetch registrar page", zap.Int("page", page), zap.Error(err))
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		items = append(items, resp.Data.Items...)
	}
	res.Fetched = len(items)

	if fetchErr != nil && len(items) == 0 {
		return res
	}

	newest := s.since
	for _, item := range items {
		if item.MatchID == "" {
			res.Skipped++
			continue
		}
		at, err := time.Parse(time.RFC3339, item.ConfirmedAt)
		if err != nil {
			s.log.Warn("could not parse confirmedAt",
				zap.String("match", item.MatchID), zap.String("confirmedAt", item.ConfirmedAt))
		} else if at.After(newest) {
			newest = at
		}

		m, err := s.confirmer.ConfirmCompletion(ctx, item.MatchID)
		switch {
		case err == nil:
			res.Confirmed++
			s.log.Info("registrar confirmed hand-off",
				zap.String("match", m.ID), zap.String("crn", m.CRN))
		case errors.Is(err, exchange.ErrNotFound), errors.Is(err, exchange.ErrInvalidState):
			res.Skipped++
			s.log.Debug("skipping registrar confirmation",
				zap.String("match", item.MatchID), zap.Error(err))
		default:
			res.Skipped++
			s.log.Error("failed to confirm hand-off",
				zap.String("match", item.MatchID), zap.Error(err))
		}
	}

	// A failed page leaves the cursor alone so the next poll sees it again.
	if fetchErr == nil {
		s.since = newest
	}
	return res
}

// fetchPage fetches a single page of confirmations.
func (s *Service) fetchPage(ctx context.Context, page int) (*FeedResponse, error) {
	payload := map[string]any{
		"page":     page,
		"pageSize": s.cfg.Request.PageSize,
	}
	if !s.since.IsZero() {
		payload["since"] = s.since.UTC().Format(time.RFC3339)
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Request.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range s.cfg.Request.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var feed FeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registrar response: %w", err)
	}
	if feed.Code != 0 {
		return nil, fmt.Errorf("registrar returned non-zero application code: %d", feed.Code)
	}
	return &feed, nil
}
