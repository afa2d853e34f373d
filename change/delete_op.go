package change

import (
	"context"
	"fmt"
)

// DeleteOp removes a change from the database and drops its refs from the
// repository.
type DeleteOp struct{}

// UpdateDB re-checks the status inside the transaction, since the change
// may have been merged after the request was authorized.
func (DeleteOp) UpdateDB(ctx context.Context, cc ChangeContext) error {
	c := cc.Change()
	if c.Status == StatusMerged {
		return methodNotAllowed("Cannot delete change %s: change is merged", c.ID)
	}
	if err := cc.DeleteChange(ctx); err != nil {
		return fmt.Errorf("delete change %s: %w", c.ID, err)
	}
	return nil
}

func (DeleteOp) UpdateRepo(ctx context.Context, rc RepoContext, id ID) error {
	if err := rc.DeleteChangeRefs(ctx, id); err != nil {
		return fmt.Errorf("delete refs of change %s: %w", id, err)
	}
	return nil
}
