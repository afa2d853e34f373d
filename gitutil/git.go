package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Repository is a bare git repository holding change refs.
type Repository struct {
	Dir            string
	GitPath        string
	CommandTimeout time.Duration
	mu             sync.Mutex
}

// ErrRefLocked indicates another writer holds a lock on one of the refs.
var ErrRefLocked = errors.New("ref is locked")

// NewRepository opens the bare repository at dir, initialising it if needed.
func NewRepository(gitPath, dir string, timeout time.Duration) (*Repository, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if gitPath == "" {
		gitPath = "git"
	}
	repo := &Repository{Dir: dir, GitPath: gitPath, CommandTimeout: timeout}
	if err := repo.ensureInit(); err != nil {
		return nil, err
	}
	return repo, nil
}

// ChangeRefPrefix returns the namespace of a change's patch set refs, for
// example refs/changes/07/1007/ for change 1007.
func ChangeRefPrefix(id int) string {
	return fmt.Sprintf("refs/changes/%02d/%d/", id%100, id)
}

// PatchSetRef names the ref of one patch set.
func PatchSetRef(id, patchSet int) string {
	return fmt.Sprintf("%s%d", ChangeRefPrefix(id), patchSet)
}

// ChangeRefs lists every ref under the change's namespace.
func (r *Repository) ChangeRefs(ctx context.Context, id int) ([]string, error) {
	ctx, cancel := r.ensureContext(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.changeRefsLocked(ctx, id)
}

func (r *Repository) changeRefsLocked(ctx context.Context, id int) ([]string, error) {
	cmd := r.command(ctx, "for-each-ref", "--format=%(refname)", ChangeRefPrefix(id))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w", err)
	}
	refs := strings.Fields(string(out))
	if refs == nil {
		refs = []string{}
	}
	return refs, nil
}

// UpdateRef points ref at revision.
func (r *Repository) UpdateRef(ctx context.Context, ref, revision string) error {
	if strings.TrimSpace(ref) == "" || strings.TrimSpace(revision) == "" {
		return errors.New("ref and revision required")
	}

	ctx, cancel := r.ensureContext(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := r.command(ctx, "update-ref", ref, revision)
	if out, err := cmd.CombinedOutput(); err != nil {
		return refError("git update-ref", err, out)
	}
	return nil
}

// DeleteChangeRefs removes all patch set refs of a change in one ref
// transaction. A change without refs is not an error.
func (r *Repository) DeleteChangeRefs(ctx context.Context, id int) error {
	ctx, cancel := r.ensureContext(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	refs, err := r.changeRefsLocked(ctx, id)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}

	var script bytes.Buffer
	script.WriteString("start\n")
	for _, ref := range refs {
		fmt.Fprintf(&script, "delete %s\n", ref)
	}
	script.WriteString("commit\n")

	cmd := r.command(ctx, "update-ref", "--stdin")
	cmd.Stdin = &script
	if out, err := cmd.CombinedOutput(); err != nil {
		return refError("git update-ref --stdin", err, out)
	}
	return nil
}

// CommitEmpty records an empty-tree commit and returns its hash. It seeds
// patch sets when no client push is available.
func (r *Repository) CommitEmpty(ctx context.Context, message, author, email string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("commit message required")
	}

	ctx, cancel := r.ensureContext(ctx)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	mktree := r.command(ctx, "mktree")
	mktree.Stdin = strings.NewReader("")
	tree, err := mktree.Output()
	if err != nil {
		return "", fmt.Errorf("git mktree: %w", err)
	}

	cmd := r.command(ctx, "commit-tree", strings.TrimSpace(string(tree)), "-m", message)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+author, "GIT_AUTHOR_EMAIL="+email,
		"GIT_COMMITTER_NAME="+author, "GIT_COMMITTER_EMAIL="+email,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git commit-tree: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func refError(op string, err error, out []byte) error {
	output := strings.TrimSpace(string(out))
	if isLockFailure(output) {
		return errors.Join(ErrRefLocked, fmt.Errorf("%s: %s", op, output))
	}
	return fmt.Errorf("%s: %w (%s)", op, err, output)
}

func isLockFailure(output string) bool {
	markers := []string{
		"cannot lock ref",
		"Unable to create",
		"File exists",
	}
	for _, marker := range markers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

func (r *Repository) ensureInit() error {
	if _, err := os.Stat(filepath.Join(r.Dir, "HEAD")); err == nil {
		return nil
	}

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.GitPath, "init", "--bare", "--quiet")
	cmd.Dir = r.Dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git init: %w (%s)", err, string(out))
	}
	return nil
}

func (r *Repository) command(ctx context.Context, args ...string) *exec.Cmd {
	if ctx == nil {
		ctx = context.Background()
	}

	baseArgs := []string{
		"-c", "credential.helper=", // Disable credential helper to prevent daemon spawning
	}
	fullArgs := append(baseArgs, args...)

	cmd := exec.CommandContext(ctx, r.GitPath, fullArgs...)
	cmd.Dir = r.Dir
	return cmd
}

func (r *Repository) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx != nil {
		return ctx, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.CommandTimeout)
	return ctx, cancel
}
