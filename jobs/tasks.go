package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cellar/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMint carries NFT mint requests.
	QueueMint = "nft"
	// TaskTypeNFTMint mints the certificate NFT of a freshly serialized bottle.
	TaskTypeNFTMint = "nft:mint"
	// TaskTypeIdempotencySweep purges expired idempotency keys.
	TaskTypeIdempotencySweep = "maintenance:idempotency_sweep"

	mintMaxRetry = 10
)

// MintPayload is the body of a TaskTypeNFTMint task.
type MintPayload struct {
	BottleID     uuid.UUID `json:"bottle_id"`
	SerialNumber string    `json:"serial_number"`
	AllocationID uuid.UUID `json:"allocation_id"`
	ProductLabel string    `json:"product_label"`
	RequestedAt  time.Time `json:"requested_at"`
}

// NewMintPayload converts a serialization mint request.
func NewMintPayload(req inventory.MintRequest, at time.Time) MintPayload {
	return MintPayload{
		BottleID:     req.BottleID,
		SerialNumber: req.SerialNumber,
		AllocationID: req.AllocationID,
		ProductLabel: req.ProductLabel,
		RequestedAt:  at.UTC(),
	}
}

// NewMintTask constructs an Asynq task. The task id is derived from the
// bottle so a bottle is queued for minting at most once.
func NewMintTask(payload MintPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNFTMint, data,
		asynq.TaskID(mintTaskID(payload.BottleID)),
		asynq.Queue(QueueMint),
		asynq.MaxRetry(mintMaxRetry),
	), nil
}

func mintTaskID(bottleID uuid.UUID) string {
	return "nft-mint:" + bottleID.String()
}

// IdempotencySweepPayload carries the retention window of the sweep.
type IdempotencySweepPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencySweepTask constructs the periodic sweep task.
func NewIdempotencySweepTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencySweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencySweep, body, asynq.Queue(QueueDefault)), nil
}
