package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/wellpass/internal/docstore"
	"github.com/DukeRupert/wellpass/internal/domain"
	"github.com/DukeRupert/wellpass/internal/metrics"
	"github.com/DukeRupert/wellpass/internal/storage"
)

// Defaults for the retention purge.
const (
	DefaultRetentionDays = 30
	PurgeBatchSize       = 500
)

// archiveConcurrency bounds parallel archive uploads.
const archiveConcurrency = 4

// purger archives client documents and then removes them permanently.
type purger struct {
	store   docstore.Store
	archive *storage.Archive // nil disables archiving
	logger  *slog.Logger
}

// purge archives every document and hard-deletes those that were archived.
// It returns the IDs removed from the store. A document whose archive copy
// could not be written is kept.
func (p purger) purge(ctx context.Context, docs []docstore.Document, reason string) ([]string, error) {
	archived, archiveErr := p.archiveAll(ctx, docs, reason)
	if len(archived) == 0 {
		return nil, archiveErr
	}

	purged, err := p.deleteAll(ctx, archived)
	metrics.ClientsPurged.Add(float64(len(purged)))
	if err != nil {
		return purged, err
	}
	return purged, archiveErr
}

func (p purger) archiveAll(ctx context.Context, docs []docstore.Document, reason string) ([]string, error) {
	if p.archive == nil {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return ids, nil
	}

	var (
		mu  sync.Mutex
		ids = make([]string, 0, len(docs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveConcurrency)
	for _, d := range docs {
		d := d
		g.Go(func() error {
			key, err := p.archive.Save(gctx, d.ID, reason, d.Fields)
			if err != nil {
				return fmt.Errorf("archive client %s: %w", d.ID, err)
			}
			p.logger.Debug("client archived", "client_id", d.ID, "key", key)
			mu.Lock()
			ids = append(ids, d.ID)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return ids, err
}

func (p purger) deleteAll(ctx context.Context, ids []string) ([]string, error) {
	if bd, ok := p.store.(docstore.BatchDeleter); ok {
		if _, err := bd.DeleteMany(ctx, domain.CollectionClients, ids); err != nil {
			return nil, fmt.Errorf("delete clients: %w", err)
		}
		return ids, nil
	}

	purged := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := p.store.Delete(ctx, domain.CollectionClients, id); err != nil {
			return purged, fmt.Errorf("delete client %s: %w", id, err)
		}
		purged = append(purged, id)
	}
	return purged, nil
}

// =============================================================================
// Retention
// =============================================================================

// RetentionService removes clients that have been in the recycle bin for
// longer than the retention period.
type RetentionService interface {
	// PurgeExpired hard-deletes clients soft-deleted at or before cutoff,
	// in batches, oldest first. It returns the number removed.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	// Cutoff returns the purge cutoff for now.
	Cutoff(now time.Time) time.Time
}

type retentionService struct {
	purger
	roster    *Roster
	retention time.Duration
	batchSize int
}

// NewRetentionService creates a new RetentionService. A non-positive
// retentionDays uses DefaultRetentionDays. roster and archive may be nil.
func NewRetentionService(
	store docstore.Store,
	archive *storage.Archive,
	roster *Roster,
	retentionDays int,
	logger *slog.Logger,
) RetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &retentionService{
		purger:    purger{store: store, archive: archive, logger: logger},
		roster:    roster,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		batchSize: PurgeBatchSize,
	}
}

func (s *retentionService) Cutoff(now time.Time) time.Time {
	return now.Add(-s.retention)
}

func (s *retentionService) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	const op = "client.purge"

	total := 0
	for {
		docs, err := s.store.Query(ctx, domain.CollectionClients, docstore.Query{
			Filters: []docstore.Filter{docstore.Where(domain.FieldDeletedAt, docstore.OpLte, cutoff)},
			OrderBy: domain.FieldDeletedAt,
			Limit:   s.batchSize,
		})
		if err != nil {
			return total, domain.Internal(err, op, "failed to query expired clients")
		}
		if len(docs) == 0 {
			break
		}

		purged, err := s.purge(ctx, docs, storage.ReasonRetentionExpired)
		total += len(purged)
		if s.roster != nil {
			s.roster.Forget(purged...)
		}
		if err != nil {
			return total, domain.Internal(err, op, "failed to purge expired clients")
		}
	}

	if total > 0 {
		s.logger.Info("expired clients purged",
			"count", total,
			"cutoff", cutoff.UTC().Format(time.RFC3339),
		)
	}
	return total, nil
}
