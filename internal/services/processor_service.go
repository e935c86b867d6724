package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jsha/blocktogether/internal/guard"
	"github.com/jsha/blocktogether/internal/models"
	"github.com/jsha/blocktogether/internal/remote"
	"gorm.io/gorm"
)

// ProcessorService drains a user's pending actions oldest-first, applying
// business rules before touching the remote service. At most one drain per
// user runs process-wide; a concurrent second call is dropped with a log
// note, never queued.
type ProcessorService struct {
	db        *gorm.DB
	log       *ActionLogService
	snapshots *SnapshotService
	fanout    *FanoutService
	client    remote.Client
	guard     *guard.Registry
}

func NewProcessorService(db *gorm.DB, log *ActionLogService, snapshots *SnapshotService, fanout *FanoutService, client remote.Client, g *guard.Registry) *ProcessorService {
	return &ProcessorService{db: db, log: log, snapshots: snapshots, fanout: fanout, client: client, guard: g}
}

// Process drains sourceUID's pending actions. Aside from the per-user
// guard, early exits are: unknown user, deactivated user. An unclassified
// remote error stops the drain with the current action left pending so a
// later cycle retries it; nothing is ever silently dropped. Externally
// caused actions that reach done are handed to fanout so subscribers pick
// up the observed mutations.
func (p *ProcessorService) Process(ctx context.Context, sourceUID string) error {
	var user models.User
	if err := p.db.WithContext(ctx).Where("uid = ?", sourceUID).First(&user).Error; err != nil {
		return fmt.Errorf("loading user %s: %w", sourceUID, err)
	}
	if !user.Active() {
		slog.Info("skipping processing for deactivated user", "source_uid", sourceUID)
		return nil
	}

	release, ok := p.guard.Acquire("process:" + sourceUID)
	if !ok {
		slog.Info("processing already in flight, dropping", "source_uid", sourceUID)
		return nil
	}
	defer release()

	blocked, err := p.snapshots.CurrentBlockSet(ctx, sourceUID)
	if err != nil {
		return err
	}
	immune, err := p.log.ManuallyUnblocked(ctx, sourceUID)
	if err != nil {
		return err
	}

	pending, err := p.log.FindPending(ctx, sourceUID)
	if err != nil {
		return err
	}

	var observed []models.Action
	for i := range pending {
		action := &pending[i]
		halt, err := p.applyOne(ctx, &user, action, blocked, immune)
		if err != nil {
			slog.Error("processing halted", "job", "action-process",
				"source_uid", sourceUID, "action_id", action.ID.String(), "error", err.Error())
			break
		}
		if action.Status == models.StatusDone && action.Cause == models.CauseExternal {
			observed = append(observed, *action)
		}
		if halt {
			break
		}
	}

	// Completed external observations propagate to subscribers. Derived
	// actions carry cause subscription, so their own completion never
	// re-enters fanout.
	if len(observed) > 0 {
		if _, err := p.fanout.Fanout(ctx, observed); err != nil {
			slog.Error("fanout failed", "job", "action-process",
				"source_uid", sourceUID, "error", err.Error())
		}
	}

	return p.log.ClearPendingFlag(ctx, sourceUID)
}

// applyOne runs the rule pipeline for a single action. It returns halt=true
// when the rest of the drain must be abandoned for this cycle (source no
// longer authorized). blocked is kept in step with successful mutations so
// later actions in the same drain see them.
func (p *ProcessorService) applyOne(ctx context.Context, user *models.User, action *models.Action, blocked, immune map[string]bool) (halt bool, err error) {
	// Self-targeted mutations are forbidden outright.
	if action.SinkUID == action.SourceUID {
		return false, p.log.Transition(ctx, action, models.StatusCancelledSelf)
	}

	// Already in the desired state per the latest snapshot.
	if (action.Type == models.TypeBlock && blocked[action.SinkUID]) ||
		(action.Type == models.TypeUnblock && !blocked[action.SinkUID]) {
		return false, p.log.Transition(ctx, action, models.StatusCancelledDuplicate)
	}

	if action.Type == models.TypeBlock && action.Cause == models.CauseSubscription {
		// Unblock immunity: a target the user manually unblocked is never
		// re-blocked by automation.
		if immune[action.SinkUID] {
			return false, p.log.Transition(ctx, action, models.StatusCancelledUnblocked)
		}

		friendship, err := p.client.Friendship(ctx, user, action.SinkUID)
		if err != nil {
			return p.classifyRemoteError(ctx, action, err)
		}
		if friendship.TargetSuspended {
			return false, p.log.Transition(ctx, action, models.StatusCancelledSuspended)
		}
		if friendship.Following {
			return false, p.log.Transition(ctx, action, models.StatusCancelledFollowing)
		}
	}

	if err := p.client.Mutate(ctx, user, action.Type, action.SinkUID); err != nil {
		return p.classifyRemoteError(ctx, action, err)
	}

	if action.Type == models.TypeBlock {
		blocked[action.SinkUID] = true
	} else {
		delete(blocked, action.SinkUID)
	}
	return false, p.log.Transition(ctx, action, models.StatusDone)
}

// classifyRemoteError maps a remote failure to the action's next state.
// Target suspension defers just this action; source deauthorization defers
// it and halts the drain; anything else leaves the action pending and
// halts so a later cycle retries.
func (p *ProcessorService) classifyRemoteError(ctx context.Context, action *models.Action, err error) (bool, error) {
	switch {
	case errors.Is(err, remote.ErrTargetSuspended):
		return false, p.log.Transition(ctx, action, models.StatusDeferredTargetSuspended)
	case errors.Is(err, remote.ErrUnauthorized):
		if terr := p.log.Transition(ctx, action, models.StatusDeferredSourceDeactive); terr != nil {
			return true, terr
		}
		slog.Info("source deauthorized, deferring remaining actions",
			"source_uid", action.SourceUID)
		return true, nil
	default:
		return true, err
	}
}
