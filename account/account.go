// Package account models the identity attached to a request.
package account

import (
	"context"
	"strconv"
	"time"
)

// ID is the numeric account identifier.
type ID int

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// Account is the public view of a registered user. Field order fixes the
// JSON encoding sent to the client.
type Account struct {
	ID             ID        `json:"_account_id"`
	FullName       string    `json:"name,omitempty"`
	PreferredEmail string    `json:"email,omitempty"`
	Username       string    `json:"username,omitempty"`
	RegisteredOn   time.Time `json:"registered_on"`
}

type currentKey struct{}

// WithCurrent attaches the identified user to ctx.
func WithCurrent(ctx context.Context, acct *Account) context.Context {
	if acct == nil {
		return ctx
	}
	return context.WithValue(ctx, currentKey{}, acct)
}

// Current returns the identified user of the request, if any.
func Current(ctx context.Context) (*Account, bool) {
	acct, ok := ctx.Value(currentKey{}).(*Account)
	return acct, ok && acct != nil
}
