package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/academicchain/issuance-be/internal/events"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/metadata"
	"github.com/academicchain/issuance-be/internal/metrics"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// errJobCanceled aborts a batch when a cancel request lands mid-run
var errJobCanceled = errors.New("job canceled")

// item outcomes reported to metrics
const (
	outcomeIssued  = "issued"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// IssuerConfig holds the dependencies of the batch issuer
type IssuerConfig struct {
	Logger      *slog.Logger
	Store       Store
	Registry    *ledger.Registry
	Publisher   metadata.Publisher
	Broadcaster events.Broadcaster
	Scheduler   *AnchorScheduler
	Metrics     *metrics.Metrics
}

// Issuer processes BATCH_ISSUE jobs: one credential at a time, in order,
// with per-item failure containment.
type Issuer struct {
	logger      *slog.Logger
	store       Store
	registry    *ledger.Registry
	publisher   metadata.Publisher
	broadcaster events.Broadcaster
	scheduler   *AnchorScheduler
	metrics     *metrics.Metrics
}

// NewIssuer creates a new batch issuer
func NewIssuer(cfg *IssuerConfig) *Issuer {
	return &Issuer{
		logger:      cfg.Logger,
		store:       cfg.Store,
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		broadcaster: cfg.Broadcaster,
		scheduler:   cfg.Scheduler,
		metrics:     cfg.Metrics,
	}
}

// RunBatch processes every item of the batch sequentially. Item-scoped
// failures are recorded and processing continues; an adapter failure stops
// the batch because every remaining item would hit the same wall.
func (i *Issuer) RunBatch(ctx context.Context, job *domain.Job) error {
	payload, err := domain.ParseBatchIssuePayload(job.Payload)
	if err != nil {
		return err
	}

	processed := job.ProcessedCount
	failed := job.FailedCount

	for idx, item := range payload.Items {
		// redelivered jobs resume behind the persisted progress cursor;
		// rerunning earlier items would be safe but wasteful
		if idx < job.ProcessedCount {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := i.store.GetJobStatus(ctx, job.JobID)
		if err == nil && status == domain.JobStatusCanceled {
			i.logger.Info("Batch canceled mid-run",
				slog.String("job_id", job.JobID),
				slog.Int("processed", processed),
			)
			return errJobCanceled
		}

		outcome, itemErr := i.processItem(ctx, job, item)
		if itemErr != nil {
			// adapter down: every remaining item would hit the same wall,
			// so record the remainder as failed without touching the
			// ledger again, then fail the batch
			processed, failed = i.failRemainder(ctx, job, payload.Items[idx:], processed, failed)
			if _, upErr := i.store.UpdateJobProgress(ctx, job.JobID, processed, failed); upErr != nil {
				i.logger.Error("Failed to persist batch progress",
					slog.String("job_id", job.JobID),
					slog.String("error", upErr.Error()),
				)
			}
			return itemErr
		}

		processed++
		if outcome == outcomeFailed {
			failed++
		}
		i.metrics.ObserveItem(outcome)

		progress, err := i.store.UpdateJobProgress(ctx, job.JobID, processed, failed)
		if err != nil {
			i.logger.Error("Failed to persist batch progress",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		i.publishProgress(ctx, progress, events.TypeJobProgress, "")
	}

	return nil
}

// failRemainder records FAILED credential rows for items the batch never
// reached. Credentials issued by an earlier run keep their tokens and only
// count as processed.
func (i *Issuer) failRemainder(ctx context.Context, job *domain.Job, items []domain.IssueItem, processed, failed int) (int, int) {
	for _, item := range items {
		uniqueHash := domain.UniqueHash(job.InstitutionID, item)

		processed++

		cred, err := i.store.EnsureCredential(ctx, &domain.Credential{
			UniqueHash:    uniqueHash,
			CredentialID:  item.CredentialID,
			InstitutionID: job.InstitutionID,
			StudentName:   item.StudentName,
			StudentEmail:  item.StudentEmail,
			DegreeName:    item.DegreeName,
		})
		if err != nil {
			i.logger.Error("Failed to record unreached credential",
				slog.String("job_id", job.JobID),
				slog.String("unique_hash", uniqueHash),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}

		if cred.TokenID != "" {
			i.metrics.ObserveItem(outcomeSkipped)
			continue
		}

		if err := i.store.SetCredentialStatus(ctx, uniqueHash, domain.ItemStatusFailed); err != nil {
			i.logger.Error("Failed to mark unreached credential failed",
				slog.String("job_id", job.JobID),
				slog.String("unique_hash", uniqueHash),
				slog.String("error", err.Error()),
			)
		}
		failed++
		i.metrics.ObserveItem(outcomeFailed)
	}
	return processed, failed
}

// processItem issues one credential. The returned error is non-nil only for
// adapter-scoped failures; anything scoped to the item resolves to the
// "failed" outcome instead.
func (i *Issuer) processItem(ctx context.Context, job *domain.Job, item domain.IssueItem) (string, error) {
	uniqueHash := domain.UniqueHash(job.InstitutionID, item)

	log := i.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("unique_hash", uniqueHash),
	)

	cred, err := i.store.EnsureCredential(ctx, &domain.Credential{
		UniqueHash:    uniqueHash,
		CredentialID:  item.CredentialID,
		InstitutionID: job.InstitutionID,
		StudentName:   item.StudentName,
		StudentEmail:  item.StudentEmail,
		DegreeName:    item.DegreeName,
	})
	if err != nil {
		log.Error("Failed to load credential record", slog.String("error", err.Error()))
		return outcomeFailed, nil
	}

	// idempotent short-circuit: a replayed batch never mints twice
	if cred.TokenID != "" {
		log.Info("Credential already issued, skipping",
			slog.String("token_id", cred.TokenID),
		)
		return outcomeSkipped, nil
	}

	metadataURI := i.resolveMetadataURI(ctx, job, item, cred, log)

	primary := i.registry.Primary()
	mintStart := time.Now()
	mint, err := primary.Mint(ctx, uniqueHash, metadataURI)
	i.metrics.ObserveLedgerCall(primary.Name(), "mint", time.Since(mintStart))
	if err != nil {
		if domain.IsAdapterError(err) {
			return "", err
		}
		log.Warn("Mint rejected", slog.String("error", err.Error()))
		if setErr := i.store.SetCredentialStatus(ctx, uniqueHash, domain.ItemStatusFailed); setErr != nil {
			log.Error("Failed to record credential failure", slog.String("error", setErr.Error()))
		}
		return outcomeFailed, nil
	}

	if err := i.store.SetCredentialToken(ctx, uniqueHash, mint.TokenID, mint.SerialNumber); err != nil {
		if errors.Is(err, domain.ErrTokenAlreadyAssigned) {
			// a concurrent run minted first; the record keeps the earlier
			// token and this one becomes an orphan worth alerting on
			log.Error("Minted a duplicate token for an already-issued credential",
				slog.String("orphan_token_id", mint.TokenID),
			)
			return outcomeFailed, nil
		}
		log.Error("Failed to record minted token", slog.String("error", err.Error()))
		return outcomeFailed, nil
	}

	log.Info("Credential minted",
		slog.String("token_id", mint.TokenID),
		slog.Int64("serial_number", mint.SerialNumber),
	)

	if item.RecipientAccountID != "" {
		transferStart := time.Now()
		err := primary.Transfer(ctx, mint.TokenID, mint.SerialNumber, item.RecipientAccountID)
		i.metrics.ObserveLedgerCall(primary.Name(), "transfer", time.Since(transferStart))
		if err != nil {
			// the credential is issued either way; the recipient can claim later
			log.Warn("Token transfer failed",
				slog.String("recipient", item.RecipientAccountID),
				slog.String("error", err.Error()),
			)
		}
	}

	i.anchorAll(ctx, job, uniqueHash, log)

	return outcomeIssued, nil
}

// resolveMetadataURI reuses a previously pinned URI or pins a fresh document.
// Metadata failure never blocks the mint: the token is minted without a URI
// and the document can be re-pinned later.
func (i *Issuer) resolveMetadataURI(ctx context.Context, job *domain.Job, item domain.IssueItem, cred *domain.Credential, log *slog.Logger) string {
	if cred.MetadataURI != "" {
		return cred.MetadataURI
	}
	if i.publisher == nil {
		return ""
	}

	uri, err := i.publisher.Publish(ctx, &metadata.Document{
		Name:           item.DegreeName,
		Description:    "Academic credential for " + item.StudentName,
		UniqueHash:     cred.UniqueHash,
		InstitutionID:  job.InstitutionID,
		StudentName:    item.StudentName,
		DegreeName:     item.DegreeName,
		GraduationDate: item.GraduationDate,
		IssuedAt:       time.Now().UTC(),
		Attributes:     item.Extra,
	})
	if err != nil {
		log.Warn("Metadata pin failed, minting without URI",
			slog.String("error", err.Error()),
		)
		return ""
	}

	if err := i.store.SetCredentialMetadataURI(ctx, cred.UniqueHash, uri); err != nil {
		log.Warn("Failed to cache metadata URI", slog.String("error", err.Error()))
	}
	return uri
}

// anchorAll attempts one anchor per secondary ledger. Failures never sink the
// item: they are recorded as FAILED and handed to the retry scheduler.
func (i *Issuer) anchorAll(ctx context.Context, job *domain.Job, uniqueHash string, log *slog.Logger) {
	for _, anchorer := range i.registry.Secondaries() {
		name := anchorer.Name()

		start := time.Now()
		result, err := anchorer.Anchor(ctx, uniqueHash)
		i.metrics.ObserveLedgerCall(name, "anchor", time.Since(start))

		if err != nil {
			i.metrics.ObserveAnchor(name, "failed")
			if upErr := i.store.UpsertAnchor(ctx, &domain.Anchor{
				UniqueHash: uniqueHash,
				Ledger:     name,
				Status:     domain.AnchorStatusFailed,
				Attempts:   1,
				LastError:  err.Error(),
			}); upErr != nil {
				log.Error("Failed to record anchor failure",
					slog.String("ledger", name),
					slog.String("error", upErr.Error()),
				)
			}

			if schedErr := i.scheduler.ScheduleRetry(ctx, job.InstitutionID, uniqueHash, name, 2); schedErr != nil {
				log.Error("Failed to schedule anchor retry",
					slog.String("ledger", name),
					slog.String("error", schedErr.Error()),
				)
			}
			continue
		}

		i.metrics.ObserveAnchor(name, "confirmed")
		if upErr := i.store.UpsertAnchor(ctx, &domain.Anchor{
			UniqueHash: uniqueHash,
			Ledger:     name,
			TxID:       result.TxID,
			Status:     domain.AnchorStatusConfirmed,
			Attempts:   1,
		}); upErr != nil {
			log.Error("Failed to record confirmed anchor",
				slog.String("ledger", name),
				slog.String("error", upErr.Error()),
			)
		}
	}
}

// publishProgress fans a progress snapshot out to the job and institution topics
func (i *Issuer) publishProgress(ctx context.Context, p *domain.Progress, eventType, errMsg string) {
	event := events.Event{
		Type:           eventType,
		JobID:          p.JobID,
		InstitutionID:  p.InstitutionID,
		TotalCount:     p.TotalCount,
		ProcessedCount: p.ProcessedCount,
		FailedCount:    p.FailedCount,
		Error:          errMsg,
		Timestamp:      time.Now().UTC(),
	}

	if err := i.broadcaster.Publish(ctx, events.JobTopic(p.JobID), event); err != nil {
		i.logger.Warn("Failed to publish job event", slog.String("error", err.Error()))
	}

	instEvent := event
	if eventType == events.TypeJobProgress {
		instEvent.Type = events.TypeInstitutionUpdate
	}
	if err := i.broadcaster.Publish(ctx, events.InstitutionTopic(p.InstitutionID), instEvent); err != nil {
		i.logger.Warn("Failed to publish institution event", slog.String("error", err.Error()))
	}
}

// publishTerminal publishes a terminal event from the job row's current
// counters. It runs after the final status write so a client resyncing on
// the event never reads a stale RUNNING row.
func (i *Issuer) publishTerminal(ctx context.Context, job *domain.Job, eventType, errMsg string) {
	current, err := i.store.GetJobByID(ctx, job.JobID)
	if err != nil {
		current = job
	}
	i.publishProgress(ctx, &domain.Progress{
		JobID:          current.JobID,
		InstitutionID:  current.InstitutionID,
		TotalCount:     current.TotalCount,
		ProcessedCount: current.ProcessedCount,
		FailedCount:    current.FailedCount,
	}, eventType, errMsg)
}
