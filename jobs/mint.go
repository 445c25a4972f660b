package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/cellar/internal/jobs"
)

// Minter mints one bottle certificate.
type Minter interface {
	Mint(ctx context.Context, payload MintPayload) (string, error)
}

// MintJob handles TaskTypeNFTMint tasks.
type MintJob struct {
	minter  Minter
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewMintJob wires the job. metrics may be nil.
func NewMintJob(minter Minter, metrics *jobmetrics.Metrics, logger *slog.Logger) *MintJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MintJob{minter: minter, metrics: metrics, logger: logger}
}

// Handle decodes the payload and calls the minter. Malformed payloads are
// not retried.
func (j *MintJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload MintPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("nft mint payload", slog.Any("error", err))
		return fmt.Errorf("decode mint payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics.Track("nft_mint")
	token, err := j.minter.Mint(ctx, payload)
	if err != nil {
		j.logger.Warn("nft mint failed",
			slog.String("bottle_id", payload.BottleID.String()),
			slog.String("serial", payload.SerialNumber),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("nft minted",
		slog.String("bottle_id", payload.BottleID.String()),
		slog.String("serial", payload.SerialNumber),
		slog.String("token_id", token))
	return tracker.End(nil)
}

// HTTPMinter posts mint requests to an external mint service.
type HTTPMinter struct {
	url    string
	client *http.Client
}

// NewHTTPMinter builds a minter for url.
func NewHTTPMinter(url string, timeout time.Duration) *HTTPMinter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMinter{url: url, client: &http.Client{Timeout: timeout}}
}

type mintResponse struct {
	TokenID string `json:"token_id"`
}

// Mint posts payload and returns the token id from the response. Client
// errors (4xx) skip retries; everything else is retried by asynq.
func (m *HTTPMinter) Mint(ctx context.Context, payload MintPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", mintTaskID(payload.BottleID))
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out mintResponse
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return "", fmt.Errorf("decode mint response: %w", err)
			}
		}
		return out.TokenID, nil
	case resp.StatusCode == http.StatusConflict:
		// already minted for this bottle
		return "", nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return "", fmt.Errorf("mint service rejected bottle %s: %d %s: %w", payload.BottleID, resp.StatusCode, bytes.TrimSpace(raw), asynq.SkipRetry)
	default:
		return "", fmt.Errorf("mint service: status %d", resp.StatusCode)
	}
}

// KeySweeper deletes expired idempotency keys.
type KeySweeper interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencySweepJob handles TaskTypeIdempotencySweep tasks.
type IdempotencySweepJob struct {
	store   KeySweeper
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewIdempotencySweepJob wires the sweep.
func NewIdempotencySweepJob(store KeySweeper, metrics *jobmetrics.Metrics, logger *slog.Logger) *IdempotencySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencySweepJob{store: store, metrics: metrics, logger: logger}
}

// Handle runs one sweep.
func (j *IdempotencySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 7 * 24 * time.Hour
	}
	tracker := j.metrics.Track("idempotency_sweep")
	n, err := j.store.Cleanup(ctx, payload.OlderThan)
	if err == nil {
		j.logger.Info("idempotency keys swept", slog.Int64("deleted", n), slog.Duration("older_than", payload.OlderThan))
	}
	return tracker.End(err)
}
