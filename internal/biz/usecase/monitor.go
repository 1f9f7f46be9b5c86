package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// MonitorConfig configures the monitoring engine
type MonitorConfig struct {
	// QueueSize bounds the per-subscription event queue
	QueueSize int
	// DeliveryTimeout bounds a single sink delivery
	DeliveryTimeout time.Duration
}

// DefaultMonitorConfig is used for zero fields
var DefaultMonitorConfig = MonitorConfig{
	QueueSize:       64,
	DeliveryTimeout: 15 * time.Second,
}

// subscription is one attached credential
type subscription struct {
	view   domain.Subscription
	handle repo.Handle
	ctx    context.Context
	cancel context.CancelFunc
	events chan domain.InboundEvent

	rules atomic.Pointer[RuleSet]
	addMu sync.Mutex // serializes persist-then-publish of new filters

	workerDone chan struct{}
	log        *logger.Logger
}

func (s *subscription) snapshot() domain.Subscription {
	v := s.view
	v.Filters = s.rules.Load().Len()
	return v
}

// MonitorUsecase attaches stored credentials and forwards matching messages
type MonitorUsecase struct {
	creds     repo.CredentialRepo
	filters   repo.FilterRepo
	transport repo.Transport
	sink      repo.DeliverySink
	cfg       MonitorConfig
	now       func() time.Time
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu   sync.RWMutex
	subs map[domain.CredentialRef]*subscription
	// deletions counts CredentialDeleted calls per credential so an attach
	// that raced with one can tell its credential is gone
	deletions map[domain.CredentialRef]uint64
}

// NewMonitorUsecase creates the engine
func NewMonitorUsecase(creds repo.CredentialRepo, filters repo.FilterRepo, transport repo.Transport, sink repo.DeliverySink, cfg MonitorConfig) *MonitorUsecase {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultMonitorConfig.QueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultMonitorConfig.DeliveryTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorUsecase{
		creds:     creds,
		filters:   filters,
		transport: transport,
		sink:      sink,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.Named("monitor"),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[domain.CredentialRef]*subscription),
		deletions: make(map[domain.CredentialRef]uint64),
	}
}

func (uc *MonitorUsecase) lookup(ref domain.CredentialRef) *subscription {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.subs[ref]
}

// Attach starts monitoring a stored credential. Attaching an already attached
// credential returns the existing subscription with created=false.
func (uc *MonitorUsecase) Attach(ctx context.Context, owner domain.OwnerID, phone string) (domain.Subscription, bool, error) {
	ref := domain.CredentialRef{Owner: owner, Phone: strings.TrimSpace(phone)}
	if s := uc.lookup(ref); s != nil {
		return s.snapshot(), false, nil
	}

	v, err, _ := uc.group.Do(ref.String(), func() (interface{}, error) {
		if s := uc.lookup(ref); s != nil {
			return attachResult{view: s.snapshot()}, nil
		}
		s, err := uc.attach(ctx, ref)
		if err != nil {
			return nil, err
		}
		return attachResult{view: s.snapshot(), created: true}, nil
	})
	if err != nil {
		return domain.Subscription{}, false, err
	}
	res := v.(attachResult)
	return res.view, res.created, nil
}

type attachResult struct {
	view    domain.Subscription
	created bool
}

func (uc *MonitorUsecase) attach(ctx context.Context, ref domain.CredentialRef) (*subscription, error) {
	log := logger.C(ctx, uc.log).With().Str("phone", ref.Phone).Logger()

	uc.mu.RLock()
	epoch := uc.deletions[ref]
	uc.mu.RUnlock()

	cred, err := uc.creds.Get(ctx, ref.Owner, ref.Phone)
	if err != nil {
		return nil, domain.WrapError(domain.KindStore, err, "could not read the session")
	}
	if cred == nil {
		return nil, domain.NewError(domain.KindNotFound, "no saved session for "+ref.Phone)
	}

	stored, err := uc.filters.List(ctx, ref)
	if err != nil {
		return nil, domain.WrapError(domain.KindStore, err, "could not read filters")
	}
	rules, broken := NewRuleSet(stored)
	for _, e := range broken {
		log.Warn().Err(e).Msg("skipping stored filter")
	}

	h, err := uc.transport.Restore(ctx, cred.Blob)
	if err != nil {
		if errors.Is(err, repo.ErrMalformedBlob) {
			return nil, domain.WrapError(domain.KindInvalidCredential, err, "the saved session for "+ref.Phone+" is corrupted")
		}
		return nil, domain.WrapError(domain.KindTransport, err, err.Error())
	}

	acct, err := h.Self(ctx)
	if err != nil {
		_ = h.Disconnect()
		return nil, domain.WrapError(domain.KindInvalidCredential, err, "the saved session for "+ref.Phone+" is no longer authorized")
	}

	subCtx, cancel := context.WithCancel(uc.ctx)
	s := &subscription{
		view: domain.Subscription{
			Owner:      ref.Owner,
			Phone:      ref.Phone,
			Account:    *acct,
			AttachedAt: uc.now(),
		},
		handle:     h,
		ctx:        subCtx,
		cancel:     cancel,
		events:     make(chan domain.InboundEvent, uc.cfg.QueueSize),
		workerDone: make(chan struct{}),
	}
	sl := uc.log.With().Int64("owner", int64(ref.Owner)).Str("phone", ref.Phone).Logger()
	s.log = &sl
	s.rules.Store(rules)

	uc.mu.Lock()
	var stale error
	switch {
	case uc.ctx.Err() != nil:
		stale = domain.NewError(domain.KindTransport, "monitoring is shutting down")
	case uc.deletions[ref] != epoch:
		stale = domain.NewError(domain.KindNotFound, "no saved session for "+ref.Phone)
	default:
		uc.subs[ref] = s
	}
	uc.mu.Unlock()
	if stale != nil {
		cancel()
		_ = h.Disconnect()
		log.Info().Err(stale).Msg("attach abandoned")
		return nil, stale
	}

	h.Subscribe(func(_ context.Context, ev domain.InboundEvent) { uc.enqueue(s, ev) })
	go uc.work(s)
	go uc.watch(s)

	log.Info().Int64("account", acct.ID).Int("filters", rules.Len()).Msg("monitor attached")
	return s, nil
}

// enqueue blocks only the owning subscription when its queue is full.
// Events arriving after detach are dropped.
func (uc *MonitorUsecase) enqueue(s *subscription, ev domain.InboundEvent) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// work consumes events in arrival order
func (uc *MonitorUsecase) work(s *subscription) {
	defer close(s.workerDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			uc.onEvent(s, ev)
		}
	}
}

func (uc *MonitorUsecase) onEvent(s *subscription, ev domain.InboundEvent) {
	if s.ctx.Err() != nil {
		return
	}
	annotation, ok := s.rules.Load().Evaluate(ev.Text)
	if !ok {
		s.log.Debug().Int64("sender", ev.SenderID).Msg("no filter matched")
		return
	}
	uc.forward(s, ev, annotation)
}

func (uc *MonitorUsecase) forward(s *subscription, ev domain.InboundEvent, annotation string) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, uc.cfg.DeliveryTimeout)
	defer cancel()

	text := FormatForward(s.view, ev, annotation)
	if err := uc.sink.Deliver(ctx, s.view.Owner, text); err != nil {
		s.log.Error().Err(err).Int64("sender", ev.SenderID).Msg("delivery failed")
		return
	}
	s.log.Debug().Int64("sender", ev.SenderID).Str("filter", annotation).Msg("forwarded")
}

// watch removes the subscription when its connection dies on its own
func (uc *MonitorUsecase) watch(s *subscription) {
	select {
	case <-s.ctx.Done():
		return
	case <-s.handle.Done():
	}

	ref := s.view.Ref()
	uc.mu.Lock()
	current := uc.subs[ref] == s
	if current {
		delete(uc.subs, ref)
	}
	uc.mu.Unlock()
	if !current {
		return
	}

	s.cancel()
	<-s.workerDone
	s.log.Warn().Msg("connection lost, monitor stopped")

	ctx, cancel := context.WithTimeout(uc.ctx, uc.cfg.DeliveryTimeout)
	defer cancel()
	if err := uc.sink.Deliver(ctx, ref.Owner, FormatStopped(ref.Phone)); err != nil {
		s.log.Error().Err(err).Msg("stop notice failed")
	}
}

// Detach stops monitoring a credential; detaching twice is a no-op
func (uc *MonitorUsecase) Detach(ctx context.Context, owner domain.OwnerID, phone string) bool {
	ref := domain.CredentialRef{Owner: owner, Phone: strings.TrimSpace(phone)}
	uc.mu.Lock()
	s, ok := uc.subs[ref]
	if ok {
		delete(uc.subs, ref)
	}
	uc.mu.Unlock()
	if !ok {
		return false
	}
	uc.teardown(s)
	logger.C(ctx, uc.log).Info().Str("phone", ref.Phone).Msg("monitor detached")
	return true
}

// DetachAll stops every monitor of an owner and returns how many were stopped
func (uc *MonitorUsecase) DetachAll(ctx context.Context, owner domain.OwnerID) int {
	uc.mu.Lock()
	var victims []*subscription
	for ref, s := range uc.subs {
		if ref.Owner == owner {
			victims = append(victims, s)
			delete(uc.subs, ref)
		}
	}
	uc.mu.Unlock()

	for _, s := range victims {
		uc.teardown(s)
	}
	if len(victims) > 0 {
		logger.C(ctx, uc.log).Info().Int("count", len(victims)).Msg("monitors detached")
	}
	return len(victims)
}

func (uc *MonitorUsecase) teardown(s *subscription) {
	s.cancel()
	if err := s.handle.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("disconnect failed")
	}
	<-s.workerDone
}

// IsAttached reports whether a credential is monitored
func (uc *MonitorUsecase) IsAttached(owner domain.OwnerID, phone string) bool {
	return uc.lookup(domain.CredentialRef{Owner: owner, Phone: phone}) != nil
}

// ListActive returns the owner's subscriptions ordered by phone
func (uc *MonitorUsecase) ListActive(owner domain.OwnerID) []domain.Subscription {
	uc.mu.RLock()
	out := make([]domain.Subscription, 0)
	for ref, s := range uc.subs {
		if ref.Owner == owner {
			out = append(out, s.snapshot())
		}
	}
	uc.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out
}

// AddFilter persists a filter for an attached credential and makes it live
func (uc *MonitorUsecase) AddFilter(ctx context.Context, owner domain.OwnerID, phone, kind, value string) (*domain.Filter, error) {
	k, err := domain.ParseFilterKind(kind)
	if err != nil {
		return nil, err
	}
	value = strings.TrimSpace(value)
	if !k.NeedsValue() {
		value = ""
	}

	f := &domain.Filter{
		Owner:     owner,
		Phone:     strings.TrimSpace(phone),
		Kind:      k,
		Value:     value,
		CreatedAt: uc.now(),
	}
	rule, err := CompileFilter(f)
	if err != nil {
		return nil, err
	}

	s := uc.lookup(f.Ref())
	if s == nil {
		return nil, domain.NewError(domain.KindNotAttached, f.Phone+" is not being monitored, use /addmonitor first")
	}

	s.addMu.Lock()
	defer s.addMu.Unlock()
	if err := uc.filters.Add(ctx, f); err != nil {
		return nil, domain.WrapError(domain.KindStore, err, "could not save the filter")
	}
	// the rule was compiled before the store assigned the id
	rule.filter.ID = f.ID
	s.rules.Store(s.rules.Load().With(rule))

	logger.C(ctx, uc.log).Info().Str("phone", f.Phone).Str("filter", f.Annotation()).Msg("filter added")
	return f, nil
}

// ListFilters returns the stored filters of a credential
func (uc *MonitorUsecase) ListFilters(ctx context.Context, owner domain.OwnerID, phone string) ([]*domain.Filter, error) {
	list, err := uc.filters.List(ctx, domain.CredentialRef{Owner: owner, Phone: strings.TrimSpace(phone)})
	if err != nil {
		return nil, domain.WrapError(domain.KindStore, err, "could not read filters")
	}
	return list, nil
}

// CredentialDeleted detaches a deleted credential and drops its filters
func (uc *MonitorUsecase) CredentialDeleted(ctx context.Context, ref domain.CredentialRef) {
	uc.mu.Lock()
	uc.deletions[ref]++
	uc.mu.Unlock()
	uc.Detach(ctx, ref.Owner, ref.Phone)
	n, err := uc.filters.DeleteByCredential(ctx, ref)
	if err != nil {
		logger.C(ctx, uc.log).Error().Err(err).Str("phone", ref.Phone).Msg("could not delete filters")
		return
	}
	if n > 0 {
		logger.C(ctx, uc.log).Info().Str("phone", ref.Phone).Int64("filters", n).Msg("filters deleted")
	}
}

// Close detaches every subscription
func (uc *MonitorUsecase) Close() {
	uc.mu.Lock()
	// attaches still in flight see this before registering
	uc.cancel()
	all := make([]*subscription, 0, len(uc.subs))
	for ref, s := range uc.subs {
		all = append(all, s)
		delete(uc.subs, ref)
	}
	uc.mu.Unlock()

	for _, s := range all {
		uc.teardown(s)
	}
}

var _ CredentialListener = (*MonitorUsecase)(nil)
