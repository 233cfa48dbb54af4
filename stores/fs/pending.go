// Package fs provides file backed implementations of the vaultlink stores.
// Every record is one JSON file under StoragePath, written atomically.
package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	vl "github.com/aptsend/vaultlink"
)

// FSPendingStore keeps one pending OAuth exchange per channel under
// <StoragePath>/pending/<channel>.json
type FSPendingStore struct {
	StoragePath string
	mu          sync.Mutex
}

var _ vl.PendingStore = (*FSPendingStore)(nil)

func NewFSPendingStore(storagePath string) *FSPendingStore {
	return &FSPendingStore{StoragePath: storagePath}
}

func (s *FSPendingStore) getPendingPath(ch vl.ChannelType) string {
	return filepath.Join(s.StoragePath, "pending", string(ch)+".json")
}

func (s *FSPendingStore) PutPending(ctx context.Context, p *vl.PendingExchange) error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomicFile(s.getPendingPath(p.Channel), data)
}

func (s *FSPendingStore) GetPending(ctx context.Context, ch vl.ChannelType) (*vl.PendingExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.getPendingPath(ch)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vl.ErrPendingNotFound
		}
		return nil, err
	}

	var p vl.PendingExchange
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.IsExpired() {
		_ = removeIfExists(path)
		return nil, vl.ErrPendingNotFound
	}
	return &p, nil
}

func (s *FSPendingStore) DeletePending(ctx context.Context, ch vl.ChannelType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeIfExists(s.getPendingPath(ch))
}
