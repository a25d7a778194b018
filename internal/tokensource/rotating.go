package tokensource

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/oauth2"
)

// Rotating is an oauth2.TokenSource that hands out its keys round-robin.
// It is safe for concurrent use.
type Rotating struct {
	keys []string
	next atomic.Uint64
}

var _ oauth2.TokenSource = (*Rotating)(nil)

// NewRotating returns a source over keys. At least one key is required.
func NewRotating(keys []string) (*Rotating, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return &Rotating{keys: append([]string(nil), keys...)}, nil
}

// FromStore reads the store once and returns a source over its keys.
func FromStore(ctx context.Context, store Store) (*Rotating, error) {
	raw, err := store.Read(ctx)
	if err != nil {
		return nil, err
	}
	keys := ParseKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: stored value is empty", ErrNoKeys)
	}
	return NewRotating(keys)
}

// Token returns the next key as a bearer token. Keys never expire.
func (r *Rotating) Token() (*oauth2.Token, error) {
	i := r.next.Add(1) - 1
	return &oauth2.Token{
		AccessToken: r.keys[i%uint64(len(r.keys))],
		TokenType:   "Bearer",
	}, nil
}

// Len returns the number of keys in rotation.
func (r *Rotating) Len() int {
	return len(r.keys)
}
