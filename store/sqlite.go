// Package store keeps accounts, changes and permissions in SQLite and
// implements the batch update used to modify them together with the
// change refs in the repository.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/change"
	"github.com/iedon/reviewhost/gitutil"
)

// Project permissions understood by CanDelete.
const (
	PermissionDeleteChanges    = "deleteChanges"
	PermissionDeleteOwnChanges = "deleteOwnChanges"
)

// ErrNoAccount is returned when an account lookup finds nothing.
var ErrNoAccount = errors.New("account not found")

// Store wraps the SQLite connection and the change ref repository.
type Store struct {
	conn   *sql.DB
	repo   *gitutil.Repository
	logger *slog.Logger
	now    func() time.Time
}

// Open creates the database if necessary and initialises the schema.
func Open(dbPath string, repo *gitutil.Repository, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(2000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, ddl := range []string{
		createAccountsTable,
		createChangesTable,
		createPatchSetsTable,
		createMessagesTable,
		createPermissionsTable,
	} {
		if _, err := conn.Exec(ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{conn: conn, repo: repo, logger: logger, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// NewAccount describes an account to register.
type NewAccount struct {
	Username string
	FullName string
	Email    string
	Admin    bool
}

// CreateAccount registers a new account.
func (s *Store) CreateAccount(ctx context.Context, in NewAccount) (*account.Account, error) {
	var username any
	if in.Username != "" {
		username = in.Username
	}
	registered := s.now().UTC().Truncate(time.Second)
	res, err := s.conn.ExecContext(ctx, insertAccount, username, in.FullName, in.Email, registered.Unix(), in.Admin)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &account.Account{
		ID:             account.ID(id),
		FullName:       in.FullName,
		PreferredEmail: in.Email,
		Username:       in.Username,
		RegisteredOn:   registered,
	}, nil
}

// AccountByUsername resolves a login name.
func (s *Store) AccountByUsername(ctx context.Context, username string) (*account.Account, error) {
	return s.queryAccount(ctx, selectAccount+"WHERE username = ?", username)
}

func (s *Store) queryAccount(ctx context.Context, query string, arg any) (*account.Account, error) {
	var (
		a          account.Account
		id         int64
		registered int64
	)
	err := s.conn.QueryRowContext(ctx, query, arg).Scan(&id, &a.Username, &a.FullName, &a.PreferredEmail, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	a.ID = account.ID(id)
	a.RegisteredOn = time.Unix(registered, 0).UTC()
	return &a, nil
}

// Grant gives an account a permission on a project. The project "*"
// covers every project.
func (s *Store) Grant(ctx context.Context, project string, id account.ID, permission string) error {
	if _, err := s.conn.ExecContext(ctx, grantPermission, project, int(id), permission); err != nil {
		return fmt.Errorf("failed to grant %s: %w", permission, err)
	}
	return nil
}

// CreateChange opens a new change owned by owner.
func (s *Store) CreateChange(ctx context.Context, project string, owner account.ID, subject string, status change.Status) (*change.Change, error) {
	now := s.now().UTC().Truncate(time.Second)
	res, err := s.conn.ExecContext(ctx, insertChange, project, int(owner), string(status), subject, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &change.Change{
		ID:          change.ID(id),
		Project:     project,
		Status:      status,
		Owner:       owner,
		Subject:     subject,
		Created:     now,
		LastUpdated: now,
	}, nil
}

// Change loads a change by id.
func (s *Store) Change(ctx context.Context, id change.ID) (*change.Change, error) {
	return loadChange(ctx, s.conn, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadChange(ctx context.Context, q queryer, id change.ID) (*change.Change, error) {
	var (
		c                 change.Change
		cid, owner        int64
		status            string
		created, modified int64
	)
	err := q.QueryRowContext(ctx, selectChange, int(id)).Scan(&cid, &c.Project, &owner, &status, &c.Subject, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &change.Error{Code: change.ErrNotFound, Message: "Not found: " + id.String()}
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to load change %s: %w", id, err))
	}
	c.ID = change.ID(cid)
	c.Owner = account.ID(owner)
	c.Status = change.Status(status)
	c.Created = time.Unix(created, 0).UTC()
	c.LastUpdated = time.Unix(modified, 0).UTC()
	return &c, nil
}

// AddPatchSet records a new patch set pointing at revision and creates its ref.
func (s *Store) AddPatchSet(ctx context.Context, id change.ID, uploader account.ID, revision string) (int, error) {
	var ps int
	err := s.conn.QueryRowContext(ctx, insertPatchSet, int(id), int(id), revision, int(uploader), s.now().Unix()).Scan(&ps)
	if err != nil {
		return 0, fmt.Errorf("failed to add patch set: %w", err)
	}
	if s.repo != nil {
		if err := s.repo.UpdateRef(ctx, gitutil.PatchSetRef(int(id), ps), revision); err != nil {
			return 0, err
		}
	}
	return ps, nil
}

// AddMessage appends a review message to a change.
func (s *Store) AddMessage(ctx context.Context, id change.ID, author account.ID, message string) error {
	if _, err := s.conn.ExecContext(ctx, insertMessage, int(id), int(author), message, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// IsAdmin reports whether actor administers the server.
func (s *Store) IsAdmin(ctx context.Context, actor *account.Account) (bool, error) {
	if actor == nil {
		return false, nil
	}
	var admin bool
	err := s.conn.QueryRowContext(ctx, "SELECT is_admin FROM accounts WHERE id = ?", int(actor.ID)).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check admin: %w", err)
	}
	return admin, nil
}

// CanDelete reports whether actor may delete c: administrators always may,
// otherwise deleteChanges on the project, or deleteOwnChanges for the owner.
func (s *Store) CanDelete(ctx context.Context, actor *account.Account, c *change.Change) (bool, error) {
	if actor == nil {
		return false, nil
	}
	if admin, err := s.IsAdmin(ctx, actor); err != nil || admin {
		return admin, err
	}
	if ok, err := s.hasPermission(ctx, actor.ID, c.Project, PermissionDeleteChanges); err != nil || ok {
		return ok, err
	}
	if c.Owner != actor.ID {
		return false, nil
	}
	return s.hasPermission(ctx, actor.ID, c.Project, PermissionDeleteOwnChanges)
}

func (s *Store) hasPermission(ctx context.Context, id account.ID, project, permission string) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, hasPermission, int(id), permission, project).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", permission, err)
	}
	return n > 0, nil
}

// mapErr turns contention on the database or the refs into a retryable
// lock failure.
func mapErr(err error) error {
	if err == nil || errors.Is(err, change.ErrLockFailure) {
		return err
	}
	if isLocked(err) || errors.Is(err, gitutil.ErrRefLocked) {
		return &change.Error{Code: change.ErrLockFailure, Message: err.Error()}
	}
	return err
}

func isLocked(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}
