// Package remote is the engine's boundary with the social-graph service.
// The engine depends only on the Client contract: paginated block listing,
// block/unblock mutations, and a friendship lookup. Remote ids are opaque
// strings end to end; they are never parsed as numbers.
package remote

import (
	"context"
	"errors"

	"github.com/jsha/blocktogether/internal/models"
)

// Machine-checkable remote error kinds. Callers branch with errors.Is;
// anything else is an unclassified transient error.
var (
	ErrRateLimited     = errors.New("remote: rate limited")
	ErrTargetSuspended = errors.New("remote: target suspended")
	ErrUnauthorized    = errors.New("remote: unauthorized")
	ErrNotFound        = errors.New("remote: not found")
)

// Page is one page of a user's remote block list. NextCursor equal to
// models.CursorEnd (or empty) signals the final page.
type Page struct {
	IDs        []string
	NextCursor string
}

// FriendshipInfo describes the relationship between a user and a target,
// as reported by the remote service.
type FriendshipInfo struct {
	Following       bool
	FollowedBy      bool
	TargetSuspended bool
}

// Client performs remote reads and mutations on behalf of a user.
type Client interface {
	// ListBlocks returns one page of the user's blocked ids starting at
	// cursor (models.CursorStart for the first page).
	ListBlocks(ctx context.Context, user *models.User, cursor string) (*Page, error)

	// Mutate applies one block or unblock of targetUID as user. typ is
	// models.TypeBlock or models.TypeUnblock.
	Mutate(ctx context.Context, user *models.User, typ, targetUID string) error

	// Friendship reports how user and targetUID relate.
	Friendship(ctx context.Context, user *models.User, targetUID string) (*FriendshipInfo, error)
}
