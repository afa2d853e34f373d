package change

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/iedon/reviewhost/metrics"
)

// Description is the UI action advertised for a change.
type Description struct {
	Method  string `json:"method"`
	Label   string `json:"label"`
	Title   string `json:"title"`
	Visible bool   `json:"-"`
}

// DeleteAction implements DELETE on a change.
type DeleteAction struct {
	Permissions PermissionBackend
	Updates     BatchUpdateFactory
	AllowDrafts bool
	// Attempts bounds how often a lock failure is retried.
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	now func() time.Time
}

// NewDeleteAction wires the action with sane retry defaults.
func NewDeleteAction(perms PermissionBackend, updates BatchUpdateFactory, allowDrafts bool, attempts int, logger *slog.Logger, m *metrics.Metrics) *DeleteAction {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &DeleteAction{
		Permissions: perms,
		Updates:     updates,
		AllowDrafts: allowDrafts,
		Attempts:    attempts,
		Backoff:     50 * time.Millisecond,
		Logger:      logger,
		Metrics:     m,
		now:         time.Now,
	}
}

// Apply deletes the change when the caller may do so. Lock failures from
// the batch update restart the whole action.
func (a *DeleteAction) Apply(ctx context.Context, rsrc Resource) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = a.apply(ctx, rsrc)
		if !errors.Is(err, ErrLockFailure) || attempt >= a.Attempts {
			break
		}
		a.Logger.Warn("retrying change delete", "change", rsrc.Change.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			a.observe(ctx.Err())
			return ctx.Err()
		case <-time.After(a.Backoff * time.Duration(attempt)):
		}
	}
	a.observe(err)
	if err == nil {
		a.Logger.Info("change deleted", "change", rsrc.Change.ID, "project", rsrc.Change.Project, "actor", actorName(rsrc))
	}
	return err
}

func (a *DeleteAction) apply(ctx context.Context, rsrc Resource) (err error) {
	decision, err := a.decide(ctx, rsrc)
	if err != nil {
		return err
	}
	if err := decision.Err(); err != nil {
		return err
	}

	now := time.Now
	if a.now != nil {
		now = a.now
	}
	bu, err := a.Updates.NewBatchUpdate(ctx, rsrc.Change.Project, rsrc.Actor, now())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bu.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	bu.SetOrder(DBBeforeRepo)
	bu.AddOp(rsrc.Change.ID, DeleteOp{})
	return bu.Execute(ctx)
}

// decide consults only the permission the change's state calls for.
func (a *DeleteAction) decide(ctx context.Context, rsrc Resource) (Decision, error) {
	e := Classify(rsrc.Change.Status, a.AllowDrafts)
	var isAdmin, canDelete bool
	var err error
	switch e {
	case IneligibleMerged:
	case DraftNeedsAdmin:
		isAdmin, err = a.Permissions.IsAdmin(ctx, rsrc.Actor)
	default:
		canDelete, err = a.Permissions.CanDelete(ctx, rsrc.Actor, rsrc.Change)
	}
	if err != nil {
		return Decision{}, err
	}
	return Decide(e, isAdmin, canDelete), nil
}

// Description reports how the delete button is shown for rsrc. Permission
// backend failures hide the button.
func (a *DeleteAction) Description(ctx context.Context, rsrc Resource) Description {
	return Description{
		Method:  "DELETE",
		Label:   "Delete",
		Title:   "Delete change " + rsrc.Change.ID.String(),
		Visible: a.couldDeleteWhenIn(ctx, rsrc) && a.testOrFalse(rsrc, func() (bool, error) {
			return a.Permissions.CanDelete(ctx, rsrc.Actor, rsrc.Change)
		}),
	}
}

func (a *DeleteAction) couldDeleteWhenIn(ctx context.Context, rsrc Resource) bool {
	switch Classify(rsrc.Change.Status, a.AllowDrafts) {
	case EligibleNew, EligibleAbandoned, DraftAllowed:
		return true
	case DraftNeedsAdmin:
		return a.testOrFalse(rsrc, func() (bool, error) {
			return a.Permissions.IsAdmin(ctx, rsrc.Actor)
		})
	default:
		return false
	}
}

func (a *DeleteAction) testOrFalse(rsrc Resource, check func() (bool, error)) bool {
	ok, err := check()
	if err != nil {
		a.Logger.Warn("permission check failed", "change", rsrc.Change.ID, "error", err)
		return false
	}
	return ok
}

func (a *DeleteAction) observe(err error) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.DeleteResults.WithLabelValues(Outcome(err)).Inc()
}

// Outcome names the result of a delete for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "deleted"
	case errors.Is(err, ErrMethodNotAllowed):
		return DenyMethodNotAllowed.String()
	case errors.Is(err, ErrAuth):
		return DenyAuth.String()
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLockFailure):
		return "lock_failure"
	default:
		return "error"
	}
}

func actorName(rsrc Resource) string {
	if rsrc.Actor == nil {
		return "anonymous"
	}
	if rsrc.Actor.Username != "" {
		return rsrc.Actor.Username
	}
	return rsrc.Actor.ID.String()
}
