package change

import (
	"context"
	"time"

	"github.com/iedon/reviewhost/account"
)

type fakePerms struct {
	admin     bool
	canDelete bool
	err       error

	adminCalls  int
	deleteCalls int
}

func (p *fakePerms) IsAdmin(context.Context, *account.Account) (bool, error) {
	p.adminCalls++
	return p.admin, p.err
}

func (p *fakePerms) CanDelete(context.Context, *account.Account, *Change) (bool, error) {
	p.deleteCalls++
	return p.canDelete, p.err
}

// fakeStore records the order in which storage was touched.
type fakeStore struct {
	change *Change
	// lockFailures makes the first n executions fail with ErrLockFailure.
	lockFailures int
	repoErr      error

	steps   []string
	opened  int
	closed  int
	order   Order
	deleted bool
}

func (s *fakeStore) NewBatchUpdate(context.Context, string, *account.Account, time.Time) (BatchUpdate, error) {
	s.opened++
	return &fakeBatch{store: s}, nil
}

type fakeBatch struct {
	store     *fakeStore
	ops       map[ID]Op
	committed bool
}

func (b *fakeBatch) SetOrder(o Order) { b.store.order = o }

func (b *fakeBatch) AddOp(id ID, op Op) {
	if b.ops == nil {
		b.ops = make(map[ID]Op)
	}
	b.ops[id] = op
}

func (b *fakeBatch) Execute(ctx context.Context) error {
	if b.store.lockFailures > 0 {
		b.store.lockFailures--
		return &Error{Code: ErrLockFailure, Message: "database is locked"}
	}
	for id, op := range b.ops {
		db := func() error {
			b.store.steps = append(b.store.steps, "db")
			return op.UpdateDB(ctx, fakeChangeContext{b.store})
		}
		repo := func() error {
			b.store.steps = append(b.store.steps, "repo")
			return op.UpdateRepo(ctx, fakeRepo{b.store}, id)
		}
		first, second := db, repo
		if b.store.order == RepoBeforeDB {
			first, second = repo, db
		}
		if err := first(); err != nil {
			return err
		}
		if err := second(); err != nil {
			return err
		}
	}
	b.committed = true
	return nil
}

func (b *fakeBatch) Close() error {
	b.store.closed++
	if !b.committed {
		b.store.steps = append(b.store.steps, "rollback")
	}
	return nil
}

type fakeChangeContext struct{ s *fakeStore }

func (c fakeChangeContext) Change() *Change { return c.s.change }
func (c fakeChangeContext) DeleteChange(context.Context) error {
	c.s.deleted = true
	return nil
}

type fakeRepo struct{ s *fakeStore }

func (r fakeRepo) DeleteChangeRefs(context.Context, ID) error { return r.s.repoErr }
