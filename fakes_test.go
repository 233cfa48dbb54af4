package vaultlink_test

import (
	"context"
	"errors"
	"net/url"
	"sync"

	vl "github.com/aptsend/vaultlink"
)

const testOrigin = "http://127.0.0.1:4567"

// fakeBackend records calls and answers from its fields
type fakeBackend struct {
	mu sync.Mutex

	authURL     string
	challenge   string // overrides the code_challenge put in the consent url
	state       string
	authURLErr  error
	callbackErr error
	callbackOK  bool
	unsyncErr   error
	linkErr     error
	identities  *vl.IdentitySnapshot
	identErr    error
	resolved    string
	resolveErr  error

	authReqs     []vl.AuthURLRequest
	callbacks    []vl.CallbackRequest
	unsyncs      []string
	links        []vl.WalletLink
	unlinks      []string
	identCalls   int
	resolveCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		authURL:    "https://provider.example/authorize",
		state:      "backend-state",
		callbackOK: true,
	}
}

func (b *fakeBackend) AuthURL(ctx context.Context, ch vl.ChannelType, req vl.AuthURLRequest) (*vl.AuthURLResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authReqs = append(b.authReqs, req)
	if b.authURLErr != nil {
		return nil, b.authURLErr
	}
	authURL := b.authURL
	challenge := req.CodeChallenge
	if b.challenge != "" {
		challenge = b.challenge
	}
	if challenge != "" {
		authURL += "?code_challenge=" + url.QueryEscape(challenge)
	}
	return &vl.AuthURLResponse{AuthURL: authURL, State: b.state}, nil
}

func (b *fakeBackend) Callback(ctx context.Context, ch vl.ChannelType, req vl.CallbackRequest) (*vl.CallbackResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, req)
	if b.callbackErr != nil {
		return nil, b.callbackErr
	}
	return &vl.CallbackResponse{Success: b.callbackOK}, nil
}

func (b *fakeBackend) Unsync(ctx context.Context, ch vl.ChannelType, owner, accountID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsyncs = append(b.unsyncs, string(ch)+":"+accountID)
	return b.unsyncErr
}

func (b *fakeBackend) LinkWallet(ctx context.Context, ch vl.ChannelType, link vl.WalletLink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links = append(b.links, link)
	return b.linkErr
}

func (b *fakeBackend) UnlinkWallet(ctx context.Context, ch vl.ChannelType, owner, identityID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unlinks = append(b.unlinks, string(ch)+":"+identityID)
	return b.unsyncErr
}

func (b *fakeBackend) Identities(ctx context.Context, owner string) (*vl.IdentitySnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identCalls++
	if b.identErr != nil {
		return nil, b.identErr
	}
	if b.identities == nil {
		snap := vl.EmptySnapshot()
		return &snap, nil
	}
	snap := b.identities.Clone()
	return &snap, nil
}

func (b *fakeBackend) ResolveIdentity(ctx context.Context, ch vl.ChannelType, identifier string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCalls++
	if b.resolveErr != nil {
		return "", b.resolveErr
	}
	return b.resolved, nil
}

func (b *fakeBackend) identityCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identCalls
}

type fakePopup struct {
	mu     sync.Mutex
	closed bool
}

func (p *fakePopup) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePopup) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener opens fake popups. onOpen runs inside Open, after the driver
// subscribed to the dispatcher, so it can post the provider's answer.
type fakeOpener struct {
	mu     sync.Mutex
	fail   bool
	urls   []string
	names  []string
	popup  *fakePopup
	onOpen func(url string)
}

func (o *fakeOpener) Open(ctx context.Context, url, name string) (vl.Popup, error) {
	o.mu.Lock()
	o.urls = append(o.urls, url)
	o.names = append(o.names, name)
	fail, onOpen := o.fail, o.onOpen
	o.popup = &fakePopup{}
	popup := o.popup
	o.mu.Unlock()

	if fail {
		return nil, errors.New("no display")
	}
	if onOpen != nil {
		onOpen(url)
	}
	return popup, nil
}

// memPending is a map backed PendingStore
type memPending struct {
	mu      sync.Mutex
	entries map[vl.ChannelType]vl.PendingExchange
	puts    []vl.PendingExchange
}

func newMemPending() *memPending {
	return &memPending{entries: map[vl.ChannelType]vl.PendingExchange{}}
}

func (s *memPending) PutPending(ctx context.Context, p *vl.PendingExchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.Channel] = *p
	s.puts = append(s.puts, *p)
	return nil
}

func (s *memPending) GetPending(ctx context.Context, ch vl.ChannelType) (*vl.PendingExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[ch]
	if !ok || p.IsExpired() {
		return nil, vl.ErrPendingNotFound
	}
	return &p, nil
}

func (s *memPending) DeletePending(ctx context.Context, ch vl.ChannelType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ch)
	return nil
}

func (s *memPending) has(ch vl.ChannelType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[ch]
	return ok
}

// fakeWallet signs by echoing the message with a prefix
type fakeWallet struct {
	mu        sync.Mutex
	address   string
	chainID   int64
	connected bool
	reject    bool
	signed    []string
	subs      []chan bool
}

func (w *fakeWallet) Address() string { return w.address }
func (w *fakeWallet) ChainID() int64  { return w.chainID }

func (w *fakeWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *fakeWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reject {
		return "", &vl.ProviderError{Code: "4001", Message: "User rejected the request"}
	}
	w.signed = append(w.signed, string(message))
	return "sig:" + string(message), nil
}

func (w *fakeWallet) setConnected(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = v
	for _, c := range w.subs {
		c <- v
	}
}

func (w *fakeWallet) Disconnect() error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	return nil
}

func (w *fakeWallet) Connections() (<-chan bool, func()) {
	c := make(chan bool, 8)
	w.mu.Lock()
	w.subs = append(w.subs, c)
	w.mu.Unlock()
	return c, func() {}
}

// echoVerifier accepts what fakeWallet signs
type echoVerifier struct{}

func (echoVerifier) Verify(address string, message []byte, signature string) (bool, error) {
	return signature == "sig:"+string(message), nil
}

// fakeVaults returns "" until its countdown reaches zero
type fakeVaults struct {
	mu       sync.Mutex
	vault    string
	emptyFor int
	calls    int
	err      error
	onCall   func()
}

func (v *fakeVaults) PrimaryVault(ctx context.Context, owner string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.onCall != nil {
		v.onCall()
	}
	if v.err != nil {
		return "", v.err
	}
	if v.calls <= v.emptyFor {
		return "", nil
	}
	return v.vault, nil
}
