package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/iedon/reviewhost/account"
	"github.com/iedon/reviewhost/change"
)

// Seed is an administrative batch of accounts, grants and changes.
type Seed struct {
	Accounts []SeedAccount `yaml:"accounts"`
	Grants   []SeedGrant   `yaml:"grants"`
	Changes  []SeedChange  `yaml:"changes"`
}

type SeedAccount struct {
	Username string `yaml:"username"`
	FullName string `yaml:"fullName"`
	Email    string `yaml:"email"`
	Admin    bool   `yaml:"admin"`
}

type SeedGrant struct {
	Project    string `yaml:"project"`
	Username   string `yaml:"username"`
	Permission string `yaml:"permission"`
}

type SeedChange struct {
	Project   string        `yaml:"project"`
	Owner     string        `yaml:"owner"`
	Subject   string        `yaml:"subject"`
	Status    change.Status `yaml:"status"`
	PatchSets int           `yaml:"patchSets"`
	Messages  []string      `yaml:"messages"`
}

// SeedResult counts what ApplySeed created.
type SeedResult struct {
	Accounts  int
	Grants    int
	Changes   int
	PatchSets int
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	seed := &Seed{}
	if err := yaml.Unmarshal(raw, seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// ApplySeed creates the seeded records. Accounts that already exist are
// reused, so the same file can be applied again to add grants.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed) (SeedResult, error) {
	var res SeedResult
	byName := make(map[string]*account.Account, len(seed.Accounts))

	for _, in := range seed.Accounts {
		if in.Username == "" {
			return res, errors.New("seed account without username")
		}
		acct, err := s.AccountByUsername(ctx, in.Username)
		if errors.Is(err, ErrNoAccount) {
			acct, err = s.CreateAccount(ctx, NewAccount{Username: in.Username, FullName: in.FullName, Email: in.Email, Admin: in.Admin})
			if err == nil {
				res.Accounts++
			}
		}
		if err != nil {
			return res, err
		}
		byName[in.Username] = acct
	}

	lookup := func(username string) (*account.Account, error) {
		if acct, ok := byName[username]; ok {
			return acct, nil
		}
		acct, err := s.AccountByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("seed references %q: %w", username, err)
		}
		byName[username] = acct
		return acct, nil
	}

	for _, g := range seed.Grants {
		switch g.Permission {
		case PermissionDeleteChanges, PermissionDeleteOwnChanges:
		default:
			return res, fmt.Errorf("unknown permission %q", g.Permission)
		}
		acct, err := lookup(g.Username)
		if err != nil {
			return res, err
		}
		if err := s.Grant(ctx, g.Project, acct.ID, g.Permission); err != nil {
			return res, err
		}
		res.Grants++
	}

	for _, sc := range seed.Changes {
		owner, err := lookup(sc.Owner)
		if err != nil {
			return res, err
		}
		status := sc.Status
		if status == "" {
			status = change.StatusNew
		}
		c, err := s.CreateChange(ctx, sc.Project, owner.ID, sc.Subject, status)
		if err != nil {
			return res, err
		}
		res.Changes++
		for _, msg := range sc.Messages {
			if err := s.AddMessage(ctx, c.ID, owner.ID, msg); err != nil {
				return res, err
			}
		}
		if sc.PatchSets == 0 {
			continue
		}
		if s.repo == nil {
			return res, errors.New("seed patch sets need a repository")
		}
		rev, err := s.repo.CommitEmpty(ctx, sc.Subject, owner.Username, owner.PreferredEmail)
		if err != nil {
			return res, err
		}
		for i := 0; i < sc.PatchSets; i++ {
			if _, err := s.AddPatchSet(ctx, c.ID, owner.ID, rev); err != nil {
				return res, err
			}
			res.PatchSets++
		}
	}
	return res, nil
}
