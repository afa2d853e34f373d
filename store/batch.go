package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/change"
)

var errExecuted = errors.New("batch update already executed")

type queuedOp struct {
	id change.ID
	op change.Op
}

// batchUpdate runs every DB op in one transaction and the repo ops around
// it in the configured order. Nothing is committed unless Execute succeeds.
type batchUpdate struct {
	s       *Store
	project string
	actor   *account.Account
	when    time.Time
	order   change.Order
	ops     []queuedOp

	tx       *sql.Tx
	executed bool
}

// NewBatchUpdate starts a batch update on project.
func (s *Store) NewBatchUpdate(ctx context.Context, project string, actor *account.Account, when time.Time) (change.BatchUpdate, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return &batchUpdate{s: s, project: project, actor: actor, when: when, tx: tx}, nil
}

func (b *batchUpdate) SetOrder(o change.Order) {
	b.order = o
}

func (b *batchUpdate) AddOp(id change.ID, op change.Op) {
	b.ops = append(b.ops, queuedOp{id: id, op: op})
}

func (b *batchUpdate) Execute(ctx context.Context) error {
	if b.executed {
		return errExecuted
	}
	b.executed = true

	if b.order == change.RepoBeforeDB {
		if err := b.updateRepo(ctx); err != nil {
			return mapErr(err)
		}
		return b.updateDB(ctx)
	}
	if err := b.updateDB(ctx); err != nil {
		return err
	}
	// The database is committed at this point, so a repository failure
	// must not be reported as retryable.
	if err := b.updateRepo(ctx); err != nil {
		return fmt.Errorf("database updated but repository update failed: %w", err)
	}
	return nil
}

// updateDB applies every op to the database and commits.
func (b *batchUpdate) updateDB(ctx context.Context) error {
	for _, q := range b.ops {
		c, err := loadChange(ctx, b.tx, q.id)
		if err != nil {
			return err
		}
		if c.Project != b.project {
			return &change.Error{Code: change.ErrNotFound, Message: "Not found: " + q.id.String()}
		}
		cc := &changeContext{tx: b.tx, change: c}
		if err := q.op.UpdateDB(ctx, cc); err != nil {
			return mapErr(err)
		}
	}
	if err := b.tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("failed to commit: %w", err))
	}
	b.tx = nil
	b.s.logger.Debug("batch update committed", "project", b.project, "ops", len(b.ops), "actor", actorID(b.actor), "when", b.when)
	return nil
}

func actorID(a *account.Account) string {
	if a == nil {
		return "anonymous"
	}
	return a.ID.String()
}

func (b *batchUpdate) updateRepo(ctx context.Context) error {
	if b.s.repo == nil {
		return nil
	}
	rc := repoContext{b.s}
	for _, q := range b.ops {
		if err := q.op.UpdateRepo(ctx, rc, q.id); err != nil {
			return err
		}
	}
	return nil
}

// Close rolls back whatever was not committed.
func (b *batchUpdate) Close() error {
	if b.tx == nil {
		return nil
	}
	err := b.tx.Rollback()
	b.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type changeContext struct {
	tx     *sql.Tx
	change *change.Change
}

func (c *changeContext) Change() *change.Change { return c.change }

// DeleteChange removes the change row together with its patch sets and
// messages.
func (c *changeContext) DeleteChange(ctx context.Context) error {
	id := int(c.change.ID)
	for _, stmt := range []string{
		"DELETE FROM change_messages WHERE change_id = ?",
		"DELETE FROM patch_sets WHERE change_id = ?",
	} {
		if _, err := c.tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := c.tx.ExecContext(ctx, "DELETE FROM changes WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &change.Error{Code: change.ErrNotFound, Message: "Not found: " + c.change.ID.String()}
	}
	return nil
}

type repoContext struct {
	s *Store
}

func (r repoContext) DeleteChangeRefs(ctx context.Context, id change.ID) error {
	return r.s.repo.DeleteChangeRefs(ctx, int(id))
}
