// Package stores holds in-process implementations of the vaultlink stores:
// a pending exchange store on top of any scs session store (in memory by
// default) and an in-memory balance cache. File, SQL and Datastore variants
// live in the fs, gorm and gae subpackages.
package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"

	vl "github.com/aptsend/vaultlink"
)

const pendingTokenPrefix = "vaultlink:pending:"

// SessionPendingStore keeps pending exchanges in an scs session store. The
// exchange's expiry becomes the session expiry, so the backing store drops
// abandoned exchanges by itself.
type SessionPendingStore struct {
	store scs.Store
}

var _ vl.PendingStore = (*SessionPendingStore)(nil)

// NewSessionPendingStore wraps store. A nil store gets an in-memory one.
func NewSessionPendingStore(store scs.Store) *SessionPendingStore {
	if store == nil {
		store = memstore.New()
	}
	return &SessionPendingStore{store: store}
}

func pendingToken(ch vl.ChannelType) string {
	return pendingTokenPrefix + string(ch)
}

func (s *SessionPendingStore) PutPending(ctx context.Context, p *vl.PendingExchange) error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	token := pendingToken(p.Channel)
	if cs, ok := s.store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, token, data, p.ExpiresAt)
	}
	return s.store.Commit(token, data, p.ExpiresAt)
}

func (s *SessionPendingStore) GetPending(ctx context.Context, ch vl.ChannelType) (*vl.PendingExchange, error) {
	var (
		data  []byte
		found bool
		err   error
	)
	token := pendingToken(ch)
	if cs, ok := s.store.(scs.CtxStore); ok {
		data, found, err = cs.FindCtx(ctx, token)
	} else {
		data, found, err = s.store.Find(token)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, vl.ErrPendingNotFound
	}

	var p vl.PendingExchange
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt pending exchange for %s: %w", ch, err)
	}
	if p.IsExpired() {
		return nil, vl.ErrPendingNotFound
	}
	return &p, nil
}

func (s *SessionPendingStore) DeletePending(ctx context.Context, ch vl.ChannelType) error {
	token := pendingToken(ch)
	if cs, ok := s.store.(scs.CtxStore); ok {
		return cs.DeleteCtx(ctx, token)
	}
	return s.store.Delete(token)
}
