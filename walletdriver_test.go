package vaultlink_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	vl "github.com/aptsend/vaultlink"
)

var challengeTime = time.UnixMilli(1772359200000)

func fixedClock() vl.WalletOption {
	return vl.WithClock(func() time.Time { return challengeTime })
}

func TestWalletDriver_EVM(t *testing.T) {
	backend := newFakeBackend()
	w := &fakeWallet{address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", chainID: 8453, connected: true}
	d := vl.NewWalletDriver(vl.ChannelEVM, backend, w, echoVerifier{}, fixedClock())

	res := d.Sync(context.Background(), testOwner)
	if !res.Success {
		t.Fatalf("Sync() = %+v", res)
	}
	want := vl.EVMChallenge(testOwner, w.address, 8453, challengeTime)
	if len(w.signed) != 1 || w.signed[0] != want {
		t.Errorf("signed %q, want %q", w.signed, want)
	}
	if len(backend.links) != 1 {
		t.Fatalf("links = %d, want 1", len(backend.links))
	}
	link := backend.links[0]
	if link.ChainID != 8453 || link.Address != w.address || link.OwnerAddress != testOwner || link.Signature != "sig:"+want {
		t.Errorf("link = %+v", link)
	}
	if w.IsConnected() {
		t.Error("wallet should be disconnected after linking")
	}
	if d.NeedsSignature() {
		t.Error("NeedsSignature() after success")
	}
}

func TestWalletDriver_Solana(t *testing.T) {
	backend := newFakeBackend()
	w := &fakeWallet{address: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", connected: true}
	d := vl.NewWalletDriver(vl.ChannelSolana, backend, w, echoVerifier{}, fixedClock(), vl.WithDisconnectAfterLink(false))

	if res := d.Sync(context.Background(), testOwner); !res.Success {
		t.Fatalf("Sync() = %+v", res)
	}
	if !strings.HasPrefix(w.signed[0], "Link Solana wallet to AptSend") {
		t.Errorf("signed %q", w.signed[0])
	}
	if backend.links[0].ChainID != 0 {
		t.Error("solana links carry no chain id")
	}
	if !w.IsConnected() {
		t.Error("wallet should stay connected")
	}

	if err := d.Unsync(context.Background(), testOwner, "7"); err != nil {
		t.Fatalf("Unsync() error = %v", err)
	}
	if len(backend.unlinks) != 1 || backend.unlinks[0] != "sol:7" {
		t.Errorf("unlinks = %v", backend.unlinks)
	}
}

func TestWalletDriver_Failures(t *testing.T) {
	tests := []struct {
		name           string
		ch             vl.ChannelType
		owner          string
		wallet         *fakeWallet
		verifier       vl.SignatureVerifier
		linkErr        error
		wantErr        string
		rejection      bool
		needsSignature bool
	}{
		{
			name:    "no owner",
			ch:      vl.ChannelEVM,
			wallet:  &fakeWallet{address: "0x1", chainID: 1, connected: true},
			wantErr: "Aptos wallet not connected",
		},
		{
			name:    "evm not connected",
			ch:      vl.ChannelEVM,
			owner:   testOwner,
			wallet:  &fakeWallet{address: "0x1", chainID: 1},
			wantErr: "EVM wallet not connected",
		},
		{
			name:    "solana not connected",
			ch:      vl.ChannelSolana,
			owner:   testOwner,
			wallet:  &fakeWallet{},
			wantErr: "Solana wallet not connected",
		},
		{
			name:    "evm without chain",
			ch:      vl.ChannelEVM,
			owner:   testOwner,
			wallet:  &fakeWallet{address: "0x1", connected: true},
			wantErr: "EVM wallet not connected",
		},
		{
			name:           "user rejects",
			ch:             vl.ChannelEVM,
			owner:          testOwner,
			wallet:         &fakeWallet{address: "0x1", chainID: 1, connected: true, reject: true},
			wantErr:        "User rejected the request (code 4001)",
			rejection:      true,
			needsSignature: true,
		},
		{
			name:     "bad signature",
			ch:       vl.ChannelSolana,
			owner:    testOwner,
			wallet:   &fakeWallet{address: "So1", connected: true},
			verifier: rejectAll{},
			wantErr:  "Signature verification failed",
		},
		{
			name:    "backend refuses",
			ch:      vl.ChannelSolana,
			owner:   testOwner,
			wallet:  &fakeWallet{address: "So1", connected: true},
			linkErr: &vl.BackendError{Status: 400, Message: "Wallet already linked to another account"},
			wantErr: "Wallet already linked to another account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.linkErr = tt.linkErr
			verifier := tt.verifier
			if verifier == nil {
				verifier = echoVerifier{}
			}
			d := vl.NewWalletDriver(tt.ch, backend, tt.wallet, verifier)
			res := d.Sync(context.Background(), tt.owner)
			if res.Success {
				t.Fatal("Sync() succeeded, want failure")
			}
			if res.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", res.Error, tt.wantErr)
			}
			if res.IsUserRejection != tt.rejection {
				t.Errorf("IsUserRejection = %v, want %v", res.IsUserRejection, tt.rejection)
			}
			if d.NeedsSignature() != tt.needsSignature {
				t.Errorf("NeedsSignature() = %v, want %v", d.NeedsSignature(), tt.needsSignature)
			}
		})
	}
}

type rejectAll struct{}

func (rejectAll) Verify(string, []byte, string) (bool, error) { return false, nil }

func TestWalletDriver_UnsyncDisabledForEVM(t *testing.T) {
	d := vl.NewWalletDriver(vl.ChannelEVM, newFakeBackend(), &fakeWallet{}, nil)
	if err := d.Unsync(context.Background(), testOwner, "1"); !errors.Is(err, vl.ErrNotImplemented) {
		t.Errorf("Unsync() error = %v, want ErrNotImplemented", err)
	}
	on := vl.NewWalletDriver(vl.ChannelEVM, newFakeBackend(), &fakeWallet{}, nil, vl.WithWalletUnsync(true))
	if err := on.Unsync(context.Background(), testOwner, "1"); err != nil {
		t.Errorf("Unsync() with unsync enabled error = %v", err)
	}
}

func TestWalletDriver_WatchSyncsOnConnectEdge(t *testing.T) {
	backend := newFakeBackend()
	w := &fakeWallet{address: "So1"}
	d := vl.NewWalletDriver(vl.ChannelSolana, backend, w, echoVerifier{}, vl.WithDisconnectAfterLink(false))

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan vl.SyncResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, func(ctx context.Context) vl.SyncResult { return d.Sync(ctx, testOwner) },
			func(res vl.SyncResult) { results <- res })
	}()

	// wait for the subscription before toggling the wallet
	deadline := time.Now().Add(time.Second)
	for {
		w.mu.Lock()
		n := len(w.subs)
		w.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)

	w.setConnected(true)
	select {
	case res := <-results:
		if !res.Success {
			t.Errorf("auto sync = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no auto sync after connect")
	}

	// staying connected is not an edge
	w.setConnected(true)
	select {
	case res := <-results:
		t.Errorf("unexpected second sync %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	if len(backend.links) != 1 {
		t.Errorf("links = %d, want 1", len(backend.links))
	}
}

func TestWalletDriver_WatchNeedsNotifier(t *testing.T) {
	d := vl.NewWalletDriver(vl.ChannelEVM, newFakeBackend(), plainWallet{}, nil)
	if err := d.Watch(context.Background(), nil, nil); err == nil {
		t.Error("Watch() should fail for wallets without connection events")
	}
}

type plainWallet struct{}

func (plainWallet) Address() string { return "" }
func (plainWallet) IsConnected() bool { return false }
func (plainWallet) SignMessage(context.Context, []byte) (string, error) { return "", nil }
func (plainWallet) Disconnect() error { return nil }
