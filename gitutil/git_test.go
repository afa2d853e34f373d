package gitutil

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	gitPath, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git not installed")
	}
	repo, err := NewRepository(gitPath, filepath.Join(t.TempDir(), "review.git"), 30*time.Second)
	require.NoError(t, err)
	return repo
}

func TestChangeRefPrefix(t *testing.T) {
	assert.Equal(t, "refs/changes/07/7/", ChangeRefPrefix(7))
	assert.Equal(t, "refs/changes/07/1007/", ChangeRefPrefix(1007))
	assert.Equal(t, "refs/changes/34/1234/2", PatchSetRef(1234, 2))
}

func TestDeleteChangeRefs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rev, err := repo.CommitEmpty(ctx, "Add feature", "Jane Roe", "jroe@example.com")
	require.NoError(t, err)
	require.Len(t, rev, 40)

	for _, ref := range []string{PatchSetRef(7, 1), PatchSetRef(7, 2), PatchSetRef(107, 1), PatchSetRef(17, 1)} {
		require.NoError(t, repo.UpdateRef(ctx, ref, rev))
	}

	refs, err := repo.ChangeRefs(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"refs/changes/07/7/1", "refs/changes/07/7/2"}, refs)

	require.NoError(t, repo.DeleteChangeRefs(ctx, 7))
	refs, err = repo.ChangeRefs(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, refs)

	others, err := repo.ChangeRefs(ctx, 107)
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/changes/07/107/1"}, others)
}

func TestDeleteChangeRefsWithoutRefs(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.DeleteChangeRefs(context.Background(), 99))
}

func TestNewRepositoryReopens(t *testing.T) {
	repo := newTestRepo(t)
	again, err := NewRepository(repo.GitPath, repo.Dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, again.CommandTimeout)
}

func TestRefErrorDetectsLocks(t *testing.T) {
	err := refError("git update-ref", assert.AnError, []byte("fatal: cannot lock ref 'refs/changes/07/7/1': Unable to create '/x.lock': File exists."))
	assert.ErrorIs(t, err, ErrRefLocked)

	err = refError("git update-ref", assert.AnError, []byte("fatal: not a valid SHA1"))
	assert.NotErrorIs(t, err, ErrRefLocked)
	assert.ErrorIs(t, err, assert.AnError)
}
