package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jsha/blocktogether/internal/models"
	"gorm.io/gorm"
)

// ReconcileReport summarizes one reconciliation cycle: the computed deltas
// keyed by target, each attributed to one author, and whether the cycle was
// a dry run.
type ReconcileReport struct {
	UID       string
	ToBlock   map[string]string // target -> attributed author
	ToUnblock map[string]string // target -> attributed author
	DryRun    bool
}

// ReconcileService periodically recomputes a subscriber's desired block set
// (union of subscribed authors' latest snapshots) against the current one
// and enqueues the diff. Enqueueing is gated: until the execution switch is
// flipped, computed deltas are only logged.
type ReconcileService struct {
	db        *gorm.DB
	log       *ActionLogService
	snapshots *SnapshotService
	enqueue   bool
}

func NewReconcileService(db *gorm.DB, log *ActionLogService, snapshots *SnapshotService, enqueue bool) *ReconcileService {
	return &ReconcileService{db: db, log: log, snapshots: snapshots, enqueue: enqueue}
}

// Reconcile computes and (gate permitting) enqueues the block/unblock diff
// for uid. It is a silent no-op when the user is deactivated, has no
// subscriptions, or still has pending actions — the job must not race the
// processor.
func (s *ReconcileService) Reconcile(ctx context.Context, uid string) (*ReconcileReport, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, fmt.Errorf("loading user %s: %w", uid, err)
	}
	if !user.Active() {
		return nil, nil
	}

	authors, err := s.subscribedAuthors(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(authors) == 0 {
		return nil, nil
	}

	pending, err := s.log.PendingCount(ctx, uid)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		slog.Info("reconcile skipped, actions still pending", "source_uid", uid, "pending", pending)
		return nil, nil
	}

	desired, err := s.desiredSet(ctx, authors)
	if err != nil {
		return nil, err
	}
	current, err := s.snapshots.CurrentBlockSet(ctx, uid)
	if err != nil {
		return nil, err
	}
	immune, err := s.log.ManuallyUnblocked(ctx, uid)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		UID:       uid,
		ToBlock:   make(map[string]string),
		ToUnblock: make(map[string]string),
		DryRun:    !s.enqueue,
	}

	for target, attribution := range desired {
		if current[target] || immune[target] || target == uid {
			continue
		}
		// Deterministic: the first author, in subscription order, seen
		// blocking this target.
		report.ToBlock[target] = attribution[0]
	}

	if err := s.computeUnblocks(ctx, uid, authors, desired, current, report); err != nil {
		return nil, err
	}

	if report.DryRun {
		slog.Info("reconcile dry run", "source_uid", uid,
			"to_block", len(report.ToBlock), "to_unblock", len(report.ToUnblock))
		return report, nil
	}
	if err := s.enqueueDeltas(ctx, uid, report); err != nil {
		return nil, err
	}
	slog.Info("reconcile enqueued", "source_uid", uid,
		"to_block", len(report.ToBlock), "to_unblock", len(report.ToUnblock))
	return report, nil
}

// subscribedAuthors returns the authors uid subscribes to, in subscription
// creation order so attribution is stable across runs.
func (s *ReconcileService) subscribedAuthors(ctx context.Context, uid string) ([]string, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).
		Where("subscriber_uid = ?", uid).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	authors := make([]string, 0, len(subs))
	for _, sub := range subs {
		authors = append(authors, sub.AuthorUID)
	}
	return authors, nil
}

// desiredSet unions the authors' latest complete snapshots, tagging every
// target with the ordered list of authors blocking it. Authors without a
// complete snapshot yet contribute nothing.
func (s *ReconcileService) desiredSet(ctx context.Context, authors []string) (map[string][]string, error) {
	desired := make(map[string][]string)
	for _, author := range authors {
		snapshot, err := s.snapshots.LatestComplete(ctx, author)
		if err != nil {
			return nil, err
		}
		if snapshot == nil {
			continue
		}
		members, err := s.snapshots.Members(ctx, snapshot.ID)
		if err != nil {
			return nil, err
		}
		for _, target := range members {
			desired[target] = append(desired[target], author)
		}
	}
	return desired, nil
}

// computeUnblocks finds previously automated blocks to undo: fold the
// user's done blocks to the newest per target, then keep those that were
// subscription-driven, whose attributing author is still subscribed, that
// are still blocked, and that no subscribed author blocks anymore.
func (s *ReconcileService) computeUnblocks(ctx context.Context, uid string, authors []string, desired map[string][]string, current map[string]bool, report *ReconcileReport) error {
	var doneBlocks []models.Action
	err := s.db.WithContext(ctx).
		Where("source_uid = ? AND type = ? AND status = ?", uid, models.TypeBlock, models.StatusDone).
		Order("created_at ASC").
		Find(&doneBlocks).Error
	if err != nil {
		return err
	}

	// Ascending order means later rows overwrite earlier ones, leaving the
	// newest action per target.
	latest := make(map[string]models.Action)
	for _, a := range doneBlocks {
		latest[a.SinkUID] = a
	}

	subscribed := make(map[string]bool, len(authors))
	for _, author := range authors {
		subscribed[author] = true
	}

	for target, action := range latest {
		if action.Cause != models.CauseSubscription && action.Cause != models.CauseBulkManualBlock {
			continue
		}
		if !subscribed[action.CauseUID] {
			continue
		}
		if !current[target] {
			continue
		}
		if _, stillDesired := desired[target]; stillDesired {
			continue
		}
		report.ToUnblock[target] = action.CauseUID
	}
	return nil
}

// enqueueDeltas writes the report through the action log, one enqueue per
// attributing author so cause_uid stays accurate.
func (s *ReconcileService) enqueueDeltas(ctx context.Context, uid string, report *ReconcileReport) error {
	byAuthor := func(m map[string]string) map[string][]string {
		grouped := make(map[string][]string)
		for target, author := range m {
			grouped[author] = append(grouped[author], target)
		}
		return grouped
	}

	for author, targets := range byAuthor(report.ToBlock) {
		if _, err := s.log.Enqueue(ctx, uid, targets, models.TypeBlock, models.CauseSubscription, author); err != nil {
			return err
		}
	}
	for author, targets := range byAuthor(report.ToUnblock) {
		if _, err := s.log.Enqueue(ctx, uid, targets, models.TypeUnblock, models.CauseSubscription, author); err != nil {
			return err
		}
	}
	return nil
}
