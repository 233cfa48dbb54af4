package vaultlink

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aptsend/vaultlink/internal/logger"
)

// FlowState is a stage of a per-channel sync
type FlowState int

const (
	StateIdle FlowState = iota
	StateRequesting
	StateAwaitingProof
	StateFinalizing
	StateSuccess
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateAwaitingProof:
		return "awaiting_external_proof"
	case StateFinalizing:
		return "finalizing"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SyncResult is the outcome of one sync attempt
type SyncResult struct {
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	IsUserRejection bool   `json:"isUserRejection,omitempty"`
}

// Succeeded is the successful result
func Succeeded() SyncResult {
	return SyncResult{Success: true}
}

// Failed normalises err into a failed result
func Failed(err error) SyncResult {
	return SyncResult{
		Success:         false,
		Error:           ErrorMessage(err),
		IsUserRejection: WasRejected(err),
	}
}

// flow holds the transient state every driver owns: the current stage, the
// loading flag that doubles as the re-entrancy guard, and needsSignature for
// wallet channels
type flow struct {
	channel ChannelType

	mu             sync.Mutex
	state          FlowState
	loading        bool
	needsSignature bool

	reloadMu sync.RWMutex
	reload   func(ctx context.Context)
}

// begin claims the flow. It returns false without touching state when an
// attempt is already in flight.
func (f *flow) begin(ctx context.Context) (context.Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loading {
		return ctx, false
	}
	f.loading = true
	f.state = StateRequesting
	ctx = logger.With(ctx, "flow_id", uuid.NewString(), "channel", string(f.channel))
	return ctx, true
}

func (f *flow) transition(ctx context.Context, s FlowState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	logger.FromContext(ctx).Debug("flow transition", "state", s.String())
}

// finish ends the attempt and converts err into a result
func (f *flow) finish(ctx context.Context, err error) SyncResult {
	f.mu.Lock()
	f.loading = false
	if err != nil {
		f.state = StateFailed
	} else {
		f.state = StateSuccess
	}
	f.mu.Unlock()

	log := logger.FromContext(ctx)
	if err != nil {
		if WasRejected(err) {
			log.Info("sync rejected by user")
		} else {
			log.Warn("sync failed", "error", err)
		}
		return Failed(err)
	}
	log.Info("sync succeeded")
	return Succeeded()
}

func (f *flow) setNeedsSignature(v bool) {
	f.mu.Lock()
	f.needsSignature = v
	f.mu.Unlock()
}

func (f *flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *flow) IsLoading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *flow) NeedsSignature() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needsSignature
}

// bindReload installs the aggregator's reload hook
func (f *flow) bindReload(fn func(ctx context.Context)) {
	f.reloadMu.Lock()
	f.reload = fn
	f.reloadMu.Unlock()
}

func (f *flow) reloadIdentities(ctx context.Context) {
	f.reloadMu.RLock()
	fn := f.reload
	f.reloadMu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

// inProgress is the result returned to a caller that raced an attempt in flight
func inProgress() SyncResult {
	return Failed(ErrSyncInProgress)
}
