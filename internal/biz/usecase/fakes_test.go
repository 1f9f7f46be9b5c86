package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
)

// mockHandle is a scripted repo.Handle
type mockHandle struct {
	mu sync.Mutex

	codeHash       string
	requestCodeErr error
	signInErr      error
	passwordErr    error
	blob           string
	exportErr      error
	account        *domain.Account
	selfErr        error
	// selfEntered is closed when Self starts; Self then waits for selfGate
	selfEntered chan struct{}
	selfGate    chan struct{}

	disconnects int
	handler     repo.EventHandler
	done        chan struct{}
	closeOnce   sync.Once
}

func newMockHandle() *mockHandle {
	return &mockHandle{
		codeHash: "hash",
		blob:     "tgw1.blob",
		account:  &domain.Account{ID: 42, Username: "me", DisplayName: "Me"},
		done:     make(chan struct{}),
	}
}

func (h *mockHandle) RequestCode(ctx context.Context, phone string) (string, error) {
	return h.codeHash, h.requestCodeErr
}

func (h *mockHandle) SignIn(ctx context.Context, phone, code, codeHash string) error {
	return h.signInErr
}

func (h *mockHandle) SignInPassword(ctx context.Context, password string) error {
	return h.passwordErr
}

func (h *mockHandle) Export(ctx context.Context) (string, error) {
	return h.blob, h.exportErr
}

func (h *mockHandle) Self(ctx context.Context) (*domain.Account, error) {
	if h.selfGate != nil {
		close(h.selfEntered)
		<-h.selfGate
	}
	return h.account, h.selfErr
}

func (h *mockHandle) Subscribe(handler repo.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *mockHandle) Disconnect() error {
	h.mu.Lock()
	h.disconnects++
	h.mu.Unlock()
	h.kill()
	return nil
}

func (h *mockHandle) Done() <-chan struct{} { return h.done }

// kill simulates the connection dying on its own
func (h *mockHandle) kill() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *mockHandle) disconnected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

// emit pushes an inbound message through the installed handler
func (h *mockHandle) emit(ev domain.InboundEvent) {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	if fn != nil {
		fn(context.Background(), ev)
	}
}

// mockTransport hands out mockHandles
type mockTransport struct {
	mu         sync.Mutex
	connectErr error
	restoreErr error
	prepare    func(h *mockHandle)
	handles    []*mockHandle
	restores   int
}

func (t *mockTransport) newHandle() *mockHandle {
	h := newMockHandle()
	if t.prepare != nil {
		t.prepare(h)
	}
	t.handles = append(t.handles, h)
	return h
}

func (t *mockTransport) Connect(ctx context.Context) (repo.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.newHandle(), nil
}

func (t *mockTransport) Restore(ctx context.Context, blob string) (repo.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restores++
	if t.restoreErr != nil {
		return nil, t.restoreErr
	}
	return t.newHandle(), nil
}

func (t *mockTransport) last() *mockHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.handles) == 0 {
		return nil
	}
	return t.handles[len(t.handles)-1]
}

func (t *mockTransport) restoreCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restores
}

// memCredRepo is an in-memory repo.CredentialRepo
type memCredRepo struct {
	mu    sync.Mutex
	creds map[domain.CredentialRef]*domain.Credential
	seq   int
	order map[domain.CredentialRef]int
	err   error
}

func newMemCredRepo() *memCredRepo {
	return &memCredRepo{
		creds: make(map[domain.CredentialRef]*domain.Credential),
		order: make(map[domain.CredentialRef]int),
	}
}

func (r *memCredRepo) put(cred *domain.Credential) {
	ref := cred.Ref()
	c := *cred
	if _, ok := r.creds[ref]; !ok {
		r.seq++
		r.order[ref] = r.seq
	}
	r.creds[ref] = &c
}

func (r *memCredRepo) Put(ctx context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.put(cred)
	return nil
}

func (r *memCredRepo) PutWithinQuota(ctx context.Context, cred *domain.Credential, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	others := 0
	for ref := range r.creds {
		if ref.Owner == cred.Owner && ref.Phone != cred.Phone {
			others++
		}
	}
	if others >= max {
		return domain.NewError(domain.KindQuotaExceeded, "quota exceeded")
	}
	r.put(cred)
	return nil
}

func (r *memCredRepo) Get(ctx context.Context, owner domain.OwnerID, phone string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.creds[domain.CredentialRef{Owner: owner, Phone: phone}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCredRepo) ListByOwner(ctx context.Context, owner domain.OwnerID) ([]*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*domain.Credential
	for ref, c := range r.creds {
		if ref.Owner == owner {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].Ref()] < r.order[out[j].Ref()] })
	return out, nil
}

func (r *memCredRepo) CountByOwner(ctx context.Context, owner domain.OwnerID) (int, error) {
	list, err := r.ListByOwner(ctx, owner)
	return len(list), err
}

func (r *memCredRepo) Delete(ctx context.Context, owner domain.OwnerID, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	ref := domain.CredentialRef{Owner: owner, Phone: phone}
	_, ok := r.creds[ref]
	delete(r.creds, ref)
	return ok, nil
}

// memFilterRepo is an in-memory repo.FilterRepo
type memFilterRepo struct {
	mu      sync.Mutex
	seq     int64
	filters []*domain.Filter
	addErr  error
}

func (r *memFilterRepo) Add(ctx context.Context, f *domain.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.seq++
	f.ID = r.seq
	cp := *f
	r.filters = append(r.filters, &cp)
	return nil
}

func (r *memFilterRepo) List(ctx context.Context, ref domain.CredentialRef) ([]*domain.Filter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Filter
	for _, f := range r.filters {
		if f.Ref() == ref {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memFilterRepo) DeleteByCredential(ctx context.Context, ref domain.CredentialRef) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.filters[:0]
	var n int64
	for _, f := range r.filters {
		if f.Ref() == ref {
			n++
			continue
		}
		kept = append(kept, f)
	}
	r.filters = kept
	return n, nil
}

// delivery is one message handed to the sink
type delivery struct {
	Owner domain.OwnerID
	Text  string
}

// mockSink records deliveries and signals each one on ch.
// While block is set, deliveries wait on it; blockOn limits that to texts
// mentioning one account phone.
type mockSink struct {
	mu      sync.Mutex
	err     error
	got     []delivery
	ch      chan delivery
	block   chan struct{}
	blockOn string
}

func newMockSink() *mockSink {
	return &mockSink{ch: make(chan delivery, 64)}
}

func (s *mockSink) Deliver(ctx context.Context, owner domain.OwnerID, text string) error {
	if s.block != nil && (s.blockOn == "" || strings.Contains(text, s.blockOn)) {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	err := s.err
	s.got = append(s.got, delivery{Owner: owner, Text: text})
	s.mu.Unlock()
	s.ch <- delivery{Owner: owner, Text: text}
	return err
}

func (s *mockSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// wait returns the next delivery or fails after timeout
func (s *mockSink) wait(timeout time.Duration) (delivery, error) {
	select {
	case d := <-s.ch:
		return d, nil
	case <-time.After(timeout):
		return delivery{}, errors.New("timed out waiting for delivery")
	}
}

// none asserts nothing is delivered within d
func (s *mockSink) none(d time.Duration) bool {
	select {
	case <-s.ch:
		return false
	case <-time.After(d):
		return true
	}
}
