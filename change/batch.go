package change

import (
	"context"
	"time"

	"github.com/iedon/reviewhost/account"
)

// Order selects which storage a batch update writes first.
type Order int

const (
	DBBeforeRepo Order = iota
	RepoBeforeDB
)

func (o Order) String() string {
	if o == RepoBeforeDB {
		return "repo-before-db"
	}
	return "db-before-repo"
}

// PermissionBackend answers permission questions about a caller.
type PermissionBackend interface {
	IsAdmin(ctx context.Context, actor *account.Account) (bool, error)
	CanDelete(ctx context.Context, actor *account.Account, c *Change) (bool, error)
}

// ChangeContext is the database side of a batch update, scoped to one change.
type ChangeContext interface {
	Change() *Change
	DeleteChange(ctx context.Context) error
}

// RepoContext is the repository side of a batch update.
type RepoContext interface {
	DeleteChangeRefs(ctx context.Context, id ID) error
}

// Op is one unit of work inside a batch update.
type Op interface {
	UpdateDB(ctx context.Context, cc ChangeContext) error
	UpdateRepo(ctx context.Context, rc RepoContext, id ID) error
}

// BatchUpdate groups ops into one transactional update. Close must always
// be called; it rolls back anything Execute did not commit.
type BatchUpdate interface {
	SetOrder(o Order)
	AddOp(id ID, op Op)
	Execute(ctx context.Context) error
	Close() error
}

// BatchUpdateFactory opens batch updates.
type BatchUpdateFactory interface {
	NewBatchUpdate(ctx context.Context, project string, actor *account.Account, when time.Time) (BatchUpdate, error)
}
