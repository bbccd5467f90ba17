package handler

import (
	"context"
	"log/slog"

	"github.com/academicchain/issuance-be/internal/api/model"
	"github.com/academicchain/issuance-be/internal/api/storage"
	"github.com/academicchain/issuance-be/internal/events"
)

// JobStore is the persistence surface the handlers need
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID, institutionID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
	CancelJob(ctx context.Context, jobID, institutionID string) error
	GetCredential(ctx context.Context, id string) (*model.Credential, error)
	GetAnchors(ctx context.Context, uniqueHash string) ([]model.Anchor, error)
}

// QueuePublisher enqueues job messages for the worker
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte) error
	BatchRoutingKey() string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Storage     JobStore
	Queue       QueuePublisher
	Broadcaster events.Broadcaster
}

// IssuanceHandler handles credential issuance HTTP requests
type IssuanceHandler struct {
	logger      *slog.Logger
	storage     JobStore
	queue       QueuePublisher
	broadcaster events.Broadcaster
}

// NewIssuanceHandler creates a new IssuanceHandler instance
func NewIssuanceHandler(deps *Dependencies) *IssuanceHandler {
	return &IssuanceHandler{
		logger:      deps.Logger,
		storage:     deps.Storage,
		queue:       deps.Queue,
		broadcaster: deps.Broadcaster,
	}
}
