package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/repo"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
	"github.com/tgwatch/tg-session-watch/internal/pkg/validate"
)

// ErrNoPendingFlow is returned when a submit operation does not match the owner's phase
var ErrNoPendingFlow = errors.New("no matching pending flow")

// AcquisitionConfig configures the login flow
type AcquisitionConfig struct {
	MaxCredentials int
	PendingTTL     time.Duration
}

// DefaultAcquisitionConfig mirrors the defaults of the bot
var DefaultAcquisitionConfig = AcquisitionConfig{
	MaxCredentials: 3,
	PendingTTL:     10 * time.Minute,
}

// CredentialListener is told about deleted credentials
type CredentialListener interface {
	CredentialDeleted(ctx context.Context, ref domain.CredentialRef)
}

// StepResult is the outcome of one acquisition operation
type StepResult struct {
	Phase      domain.AuthPhase
	Credential *domain.Credential // set when Phase is PhaseSaved
	Choices    []string           // set when Phase is PhaseAwaitingDeleteChoice
	Deleted    string             // phone removed by a delete choice
}

// pending is the tagged variant of per-owner state; each phase carries only its own fields
type pending interface {
	phase() domain.AuthPhase
	startedAt() time.Time
	conn() repo.Handle
}

type since time.Time

func (s since) startedAt() time.Time { return time.Time(s) }

type awaitingPhone struct{ since }

func (awaitingPhone) phase() domain.AuthPhase { return domain.PhaseAwaitingPhone }
func (awaitingPhone) conn() repo.Handle       { return nil }

type awaitingCode struct {
	since
	phone    string
	codeHash string
	handle   repo.Handle
}

func (awaitingCode) phase() domain.AuthPhase { return domain.PhaseAwaitingCode }
func (s awaitingCode) conn() repo.Handle     { return s.handle }

type awaitingPassword struct {
	since
	phone  string
	handle repo.Handle
}

func (awaitingPassword) phase() domain.AuthPhase { return domain.PhaseAwaitingPassword }
func (s awaitingPassword) conn() repo.Handle     { return s.handle }

type awaitingDeleteChoice struct {
	since
	phones []string
}

func (awaitingDeleteChoice) phase() domain.AuthPhase { return domain.PhaseAwaitingDeleteChoice }
func (awaitingDeleteChoice) conn() repo.Handle       { return nil }

// ownerSlot serializes every operation of one owner
type ownerSlot struct {
	mu    sync.Mutex
	owner domain.OwnerID
	state pending
	dead  bool
}

// AcquisitionUsecase drives the phone → code → password → save flow
type AcquisitionUsecase struct {
	creds     repo.CredentialRepo
	transport repo.Transport
	cfg       AcquisitionConfig
	now       func() time.Time
	log       *logger.Logger

	mu        sync.Mutex
	slots     map[domain.OwnerID]*ownerSlot
	listeners []CredentialListener
}

// NewAcquisitionUsecase creates the usecase
func NewAcquisitionUsecase(creds repo.CredentialRepo, transport repo.Transport, cfg AcquisitionConfig) *AcquisitionUsecase {
	if cfg.MaxCredentials <= 0 {
		cfg.MaxCredentials = DefaultAcquisitionConfig.MaxCredentials
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultAcquisitionConfig.PendingTTL
	}
	return &AcquisitionUsecase{
		creds:     creds,
		transport: transport,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.Named("acquisition"),
		slots:     make(map[domain.OwnerID]*ownerSlot),
	}
}

// OnCredentialDeleted registers a listener; call before serving requests
func (uc *AcquisitionUsecase) OnCredentialDeleted(l CredentialListener) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.listeners = append(uc.listeners, l)
}

// MaxCredentials returns the per-owner quota
func (uc *AcquisitionUsecase) MaxCredentials() int {
	return uc.cfg.MaxCredentials
}

// lockSlot returns the owner's slot locked. The registry lock is released
// before the slot lock is taken.
func (uc *AcquisitionUsecase) lockSlot(owner domain.OwnerID) *ownerSlot {
	for {
		uc.mu.Lock()
		s, ok := uc.slots[owner]
		if !ok {
			s = &ownerSlot{owner: owner}
			uc.slots[owner] = s
		}
		uc.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		s.mu.Unlock()
	}
}

// clear drops the pending state and disconnects a held handle
func (uc *AcquisitionUsecase) clear(ctx context.Context, s *ownerSlot) {
	if s.state == nil {
		return
	}
	if h := s.state.conn(); h != nil {
		uc.disconnect(ctx, h)
	}
	s.state = nil
}

func (uc *AcquisitionUsecase) disconnect(ctx context.Context, h repo.Handle) {
	if err := h.Disconnect(); err != nil {
		logger.C(ctx, uc.log).Warn().Err(err).Msg("disconnect failed")
	}
}

func (uc *AcquisitionUsecase) mark() since { return since(uc.now()) }

// Phase returns the owner's current phase
func (uc *AcquisitionUsecase) Phase(owner domain.OwnerID) domain.AuthPhase {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.PhaseIdle
	}
	return s.state.phase()
}

// Begin starts a login. An existing pending flow is reset once the quota
// check has passed; a refused Begin leaves it untouched.
func (uc *AcquisitionUsecase) Begin(ctx context.Context, owner domain.OwnerID) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()

	n, err := uc.creds.CountByOwner(ctx, owner)
	if err != nil {
		return uc.current(s), domain.WrapError(domain.KindStore, err, "could not read your sessions")
	}
	if n >= uc.cfg.MaxCredentials {
		return uc.current(s), domain.NewError(domain.KindQuotaExceeded,
			fmt.Sprintf("you already have %d sessions, the limit is %d", n, uc.cfg.MaxCredentials))
	}

	if s.state != nil {
		logger.C(ctx, uc.log).Info().Str("phase", s.state.phase().String()).Msg("resetting pending flow")
		uc.clear(ctx, s)
	}
	s.state = awaitingPhone{uc.mark()}
	return StepResult{Phase: domain.PhaseAwaitingPhone}, nil
}

// SubmitPhone validates the number, opens a handle and requests a login code
func (uc *AcquisitionUsecase) SubmitPhone(ctx context.Context, owner domain.OwnerID, text string) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	return uc.submitPhone(ctx, s, text)
}

func (uc *AcquisitionUsecase) submitPhone(ctx context.Context, s *ownerSlot, text string) (StepResult, error) {
	if _, ok := s.state.(awaitingPhone); !ok {
		return uc.current(s), ErrNoPendingFlow
	}
	stay := StepResult{Phase: domain.PhaseAwaitingPhone}

	phone := strings.TrimSpace(text)
	if err := validate.Var(phone, "tgphone"); err != nil {
		return stay, domain.WrapError(domain.KindInvalidFormat, err, "phone number must start with + followed by digits, e.g. +15551234567")
	}

	h, err := uc.transport.Connect(ctx)
	if err != nil {
		return stay, domain.WrapError(domain.KindTransport, err, err.Error())
	}
	hash, err := h.RequestCode(ctx, phone)
	if err != nil {
		uc.disconnect(ctx, h)
		return stay, domain.WrapError(domain.KindTransport, err, err.Error())
	}

	s.state = awaitingCode{since: uc.mark(), phone: phone, codeHash: hash, handle: h}
	logger.C(ctx, uc.log).Info().Str("phone", phone).Msg("login code requested")
	return StepResult{Phase: domain.PhaseAwaitingCode}, nil
}

// SubmitCode signs in with the code; 2FA accounts move to the password phase
func (uc *AcquisitionUsecase) SubmitCode(ctx context.Context, owner domain.OwnerID, text string) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	return uc.submitCode(ctx, s, text)
}

func (uc *AcquisitionUsecase) submitCode(ctx context.Context, s *ownerSlot, text string) (StepResult, error) {
	st, ok := s.state.(awaitingCode)
	if !ok {
		return uc.current(s), ErrNoPendingFlow
	}

	code := strings.TrimSpace(text)
	if err := validate.Var(code, "digits"); err != nil {
		return StepResult{Phase: domain.PhaseAwaitingCode}, domain.WrapError(domain.KindInvalidFormat, err, "the code must contain digits only")
	}

	err := st.handle.SignIn(ctx, st.phone, code, st.codeHash)
	switch {
	case errors.Is(err, repo.ErrPasswordRequired):
		s.state = awaitingPassword{since: uc.mark(), phone: st.phone, handle: st.handle}
		return StepResult{Phase: domain.PhaseAwaitingPassword}, nil
	case err != nil:
		uc.clear(ctx, s)
		return StepResult{Phase: domain.PhaseAborted}, domain.WrapError(domain.KindAuth, err, err.Error())
	}
	return uc.finalize(ctx, s, st.phone, st.handle)
}

// SubmitPassword completes a 2FA login
func (uc *AcquisitionUsecase) SubmitPassword(ctx context.Context, owner domain.OwnerID, text string) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	return uc.submitPassword(ctx, s, text)
}

func (uc *AcquisitionUsecase) submitPassword(ctx context.Context, s *ownerSlot, text string) (StepResult, error) {
	st, ok := s.state.(awaitingPassword)
	if !ok {
		return uc.current(s), ErrNoPendingFlow
	}
	if err := st.handle.SignInPassword(ctx, text); err != nil {
		uc.clear(ctx, s)
		return StepResult{Phase: domain.PhaseAborted}, domain.WrapError(domain.KindAuth, err, err.Error())
	}
	return uc.finalize(ctx, s, st.phone, st.handle)
}

// finalize exports and stores the credential. The handle is disconnected on every path.
func (uc *AcquisitionUsecase) finalize(ctx context.Context, s *ownerSlot, phone string, h repo.Handle) (StepResult, error) {
	defer uc.disconnect(ctx, h)
	s.state = nil

	aborted := StepResult{Phase: domain.PhaseAborted}
	blob, err := h.Export(ctx)
	if err != nil {
		return aborted, domain.WrapError(domain.KindTransport, err, err.Error())
	}

	cred := &domain.Credential{Owner: s.owner, Phone: phone, Blob: blob, CreatedAt: uc.now()}
	if err := uc.creds.PutWithinQuota(ctx, cred, uc.cfg.MaxCredentials); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			return aborted, err
		}
		return aborted, domain.WrapError(domain.KindStore, err, "could not save the session")
	}

	logger.C(ctx, uc.log).Info().Str("phone", phone).Msg("credential saved")
	return StepResult{Phase: domain.PhaseSaved, Credential: cred}, nil
}

// BeginDelete lists the owner's credentials for selection
func (uc *AcquisitionUsecase) BeginDelete(ctx context.Context, owner domain.OwnerID) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()

	uc.clear(ctx, s)
	creds, err := uc.creds.ListByOwner(ctx, owner)
	if err != nil {
		return StepResult{Phase: domain.PhaseIdle}, domain.WrapError(domain.KindStore, err, "could not read your sessions")
	}
	if len(creds) == 0 {
		return StepResult{Phase: domain.PhaseIdle}, domain.NewError(domain.KindNothingToDelete, "you have no saved sessions")
	}

	phones := make([]string, len(creds))
	for i, c := range creds {
		phones[i] = c.Phone
	}
	s.state = awaitingDeleteChoice{since: uc.mark(), phones: phones}
	return StepResult{Phase: domain.PhaseAwaitingDeleteChoice, Choices: phones}, nil
}

// SubmitDeleteChoice deletes the credential at a 1-based index of the listed choices
func (uc *AcquisitionUsecase) SubmitDeleteChoice(ctx context.Context, owner domain.OwnerID, text string) (StepResult, error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	return uc.submitDeleteChoice(ctx, s, text)
}

func (uc *AcquisitionUsecase) submitDeleteChoice(ctx context.Context, s *ownerSlot, text string) (StepResult, error) {
	st, ok := s.state.(awaitingDeleteChoice)
	if !ok {
		return uc.current(s), ErrNoPendingFlow
	}
	stay := StepResult{Phase: domain.PhaseAwaitingDeleteChoice, Choices: st.phones}

	idx, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || idx < 1 || idx > len(st.phones) {
		return stay, domain.NewError(domain.KindInvalidSelection,
			fmt.Sprintf("send a number between 1 and %d", len(st.phones)))
	}
	phone := st.phones[idx-1]

	existed, err := uc.creds.Delete(ctx, s.owner, phone)
	if err != nil {
		return stay, domain.WrapError(domain.KindStore, err, "could not delete the session")
	}
	s.state = nil

	uc.notifyDeleted(ctx, domain.CredentialRef{Owner: s.owner, Phone: phone})
	if !existed {
		return StepResult{Phase: domain.PhaseIdle}, domain.NewError(domain.KindNotFound, "that session was already removed")
	}
	logger.C(ctx, uc.log).Info().Str("phone", phone).Msg("credential deleted")
	return StepResult{Phase: domain.PhaseIdle, Deleted: phone}, nil
}

func (uc *AcquisitionUsecase) notifyDeleted(ctx context.Context, ref domain.CredentialRef) {
	uc.mu.Lock()
	listeners := append([]CredentialListener(nil), uc.listeners...)
	uc.mu.Unlock()
	for _, l := range listeners {
		l.CredentialDeleted(ctx, ref)
	}
}

// HandleText routes free text to the operation of the owner's current phase.
// handled is false when the owner has no pending flow.
func (uc *AcquisitionUsecase) HandleText(ctx context.Context, owner domain.OwnerID, text string) (res StepResult, handled bool, err error) {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()

	switch s.state.(type) {
	case awaitingPhone:
		res, err = uc.submitPhone(ctx, s, text)
	case awaitingCode:
		res, err = uc.submitCode(ctx, s, text)
	case awaitingPassword:
		res, err = uc.submitPassword(ctx, s, text)
	case awaitingDeleteChoice:
		res, err = uc.submitDeleteChoice(ctx, s, text)
	default:
		return StepResult{Phase: domain.PhaseIdle}, false, nil
	}
	return res, true, err
}

// Cancel abandons the owner's pending flow, reporting whether one existed
func (uc *AcquisitionUsecase) Cancel(ctx context.Context, owner domain.OwnerID) bool {
	s := uc.lockSlot(owner)
	defer s.mu.Unlock()
	had := s.state != nil
	uc.clear(ctx, s)
	return had
}

// ListCredentials returns the owner's stored credentials
func (uc *AcquisitionUsecase) ListCredentials(ctx context.Context, owner domain.OwnerID) ([]*domain.Credential, error) {
	creds, err := uc.creds.ListByOwner(ctx, owner)
	if err != nil {
		return nil, domain.WrapError(domain.KindStore, err, "could not read your sessions")
	}
	return creds, nil
}

// ReapAbandoned tears down pending flows older than the TTL and forgets idle
// owners. Slots busy with an operation are skipped.
func (uc *AcquisitionUsecase) ReapAbandoned(ctx context.Context) int {
	uc.mu.Lock()
	slots := make([]*ownerSlot, 0, len(uc.slots))
	for _, s := range uc.slots {
		slots = append(slots, s)
	}
	uc.mu.Unlock()

	now := uc.now()
	reaped := 0
	for _, s := range slots {
		if !s.mu.TryLock() {
			continue
		}
		if s.state != nil && now.Sub(s.state.startedAt()) > uc.cfg.PendingTTL {
			logger.C(ctx, uc.log).Info().
				Int64("owner", int64(s.owner)).
				Str("phase", s.state.phase().String()).
				Msg("reaping abandoned flow")
			uc.clear(ctx, s)
			reaped++
		}
		if s.state == nil {
			s.dead = true
			uc.mu.Lock()
			if uc.slots[s.owner] == s {
				delete(uc.slots, s.owner)
			}
			uc.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return reaped
}

// Close tears down every pending flow
func (uc *AcquisitionUsecase) Close(ctx context.Context) {
	uc.mu.Lock()
	slots := make([]*ownerSlot, 0, len(uc.slots))
	for _, s := range uc.slots {
		slots = append(slots, s)
	}
	uc.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		uc.clear(ctx, s)
		s.mu.Unlock()
	}
}

func (uc *AcquisitionUsecase) current(s *ownerSlot) StepResult {
	if s.state == nil {
		return StepResult{Phase: domain.PhaseIdle}
	}
	res := StepResult{Phase: s.state.phase()}
	if d, ok := s.state.(awaitingDeleteChoice); ok {
		res.Choices = d.phones
	}
	return res
}
