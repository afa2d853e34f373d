// Package change holds the review change model and the delete action.
package change

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iedon/reviewhost/account"
)

// ID is the numeric change identifier.
type ID int

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

// ParseID parses a change identifier from a URL segment.
func ParseID(raw string) (ID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, &Error{Code: ErrNotFound, Message: "Not found: " + raw}
	}
	return ID(n), nil
}

// Status is the lifecycle state of a change.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusAbandoned Status = "ABANDONED"
	StatusMerged    Status = "MERGED"
	StatusDraft     Status = "DRAFT"
)

// Change is one proposed modification under review.
type Change struct {
	ID          ID         `json:"_number"`
	Project     string     `json:"project"`
	Status      Status     `json:"status"`
	Owner       account.ID `json:"owner"`
	Subject     string     `json:"subject"`
	Created     time.Time  `json:"created"`
	LastUpdated time.Time  `json:"updated"`
}

// Resource is a change addressed by a request together with its caller.
type Resource struct {
	Change *Change
	// Actor is nil for anonymous callers.
	Actor *account.Account
}

// Error categories surfaced to REST clients.
var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrAuth             = errors.New("not permitted")
	ErrNotFound         = errors.New("not found")
	ErrLockFailure      = errors.New("lock failure")
)

// Error carries a client visible message for one of the categories above.
type Error struct {
	Code    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Code
}

func methodNotAllowed(format string, args ...any) error {
	return &Error{Code: ErrMethodNotAllowed, Message: fmt.Sprintf(format, args...)}
}

func authFailure(format string, args ...any) error {
	return &Error{Code: ErrAuth, Message: fmt.Sprintf(format, args...)}
}
