package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
	"github.com/tgwatch/tg-session-watch/internal/conf"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// errNeedChoice means the owner must name a phone or index
var errNeedChoice = errors.New("choose a session")

// MonitorService is the monitor bot: attach/detach and filters
type MonitorService struct {
	monitor *usecase.MonitorUsecase
	acq     *usecase.AcquisitionUsecase
	msgs    conf.MonitorMessages
	log     *logger.Logger
}

// NewMonitorService creates the monitor bot handler
func NewMonitorService(monitor *usecase.MonitorUsecase, acq *usecase.AcquisitionUsecase, msgs conf.MonitorMessages) *MonitorService {
	return &MonitorService{monitor: monitor, acq: acq, msgs: msgs, log: logger.Named("monitor-bot")}
}

// Commands implements Handler
func (s *MonitorService) Commands() []string {
	return []string{"addmonitor", "stopmonitor", "mymonitors", "addfilter", "filters"}
}

// Help implements Handler
func (s *MonitorService) Help(ctx context.Context, owner domain.OwnerID) string {
	return s.msgs.Help
}

// HandleText implements Handler; the monitor bot has no free-text flow
func (s *MonitorService) HandleText(ctx context.Context, owner domain.OwnerID, text string) (string, bool) {
	return "", false
}

// HandleCommand implements Handler
func (s *MonitorService) HandleCommand(ctx context.Context, owner domain.OwnerID, cmd, args string) string {
	switch cmd {
	case "addmonitor":
		return s.addMonitor(ctx, owner, args)
	case "stopmonitor":
		return s.stopMonitor(ctx, owner, args)
	case "mymonitors":
		return s.listMonitors(owner)
	case "addfilter":
		return s.addFilter(ctx, owner, args)
	case "filters":
		return s.listFilters(ctx, owner, args)
	}
	return ""
}

func (s *MonitorService) addMonitor(ctx context.Context, owner domain.OwnerID, args string) string {
	saved, err := s.savedPhones(ctx, owner)
	if err != nil {
		return s.fail(ctx, err)
	}
	if len(saved) == 0 {
		return s.msgs.NoSessions
	}

	phone, err := resolvePhone(args, saved)
	if errors.Is(err, errNeedChoice) {
		return s.choose("addmonitor", saved)
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	sub, created, err := s.monitor.Attach(ctx, owner, phone)
	if err != nil {
		return s.fail(ctx, err)
	}
	if !created {
		return conf.Render(s.msgs.AlreadyAttached, "phone", sub.Phone)
	}
	return conf.Render(s.msgs.Attached,
		"phone", sub.Phone,
		"account", accountLabel(sub.Account),
		"filters", filtersLabel(sub.Filters),
	)
}

func (s *MonitorService) stopMonitor(ctx context.Context, owner domain.OwnerID, args string) string {
	if strings.EqualFold(strings.TrimSpace(args), "all") {
		n := s.monitor.DetachAll(ctx, owner)
		return conf.Render(s.msgs.DetachedAll, "count", strconv.Itoa(n))
	}

	active := s.activePhones(owner)
	if len(active) == 0 {
		return s.msgs.NoMonitors
	}
	phone, err := resolvePhone(args, active)
	if errors.Is(err, errNeedChoice) {
		return s.choose("stopmonitor", active)
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	if !s.monitor.Detach(ctx, owner, phone) {
		return conf.Render(s.msgs.NotMonitored, "phone", phone)
	}
	return conf.Render(s.msgs.Detached, "phone", phone)
}

func (s *MonitorService) listMonitors(owner domain.OwnerID) string {
	subs := s.monitor.ListActive(owner)
	if len(subs) == 0 {
		return s.msgs.NoMonitors
	}
	lines := []string{s.msgs.MonitorsHeader}
	for i, sub := range subs {
		lines = append(lines, conf.Render(s.msgs.MonitorItem,
			"index", strconv.Itoa(i+1),
			"phone", sub.Phone,
			"account", accountLabel(sub.Account),
			"filters", strconv.Itoa(sub.Filters),
			"since", sub.AttachedAt.Format("2006-01-02 15:04"),
		))
	}
	return strings.Join(lines, "\n")
}

// addFilter parses "[phone|index] <kind> [value]"
func (s *MonitorService) addFilter(ctx context.Context, owner domain.OwnerID, args string) string {
	first, rest := cutSpace(args)
	if first == "" {
		return s.msgs.AddFilterUsage
	}

	target := ""
	kind, value := first, rest
	if _, err := domain.ParseFilterKind(first); err != nil && looksLikeTarget(first) {
		target = first
		kind, value = cutSpace(rest)
		if kind == "" {
			return s.msgs.AddFilterUsage
		}
	}

	active := s.activePhones(owner)
	if len(active) == 0 {
		return s.msgs.NoMonitors
	}
	phone, err := resolvePhone(target, active)
	if errors.Is(err, errNeedChoice) {
		return s.choose("addfilter", active)
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	f, err := s.monitor.AddFilter(ctx, owner, phone, kind, value)
	if err != nil {
		return s.fail(ctx, err)
	}
	return conf.Render(s.msgs.FilterAdded,
		"id", strconv.FormatInt(f.ID, 10),
		"phone", f.Phone,
		"filter", f.Annotation(),
	)
}

func (s *MonitorService) listFilters(ctx context.Context, owner domain.OwnerID, args string) string {
	choices := s.activePhones(owner)
	if len(choices) == 0 {
		saved, err := s.savedPhones(ctx, owner)
		if err != nil {
			return s.fail(ctx, err)
		}
		choices = saved
	}
	if len(choices) == 0 {
		return s.msgs.NoSessions
	}

	phone, err := resolvePhone(args, choices)
	if errors.Is(err, errNeedChoice) {
		return s.choose("filters", choices)
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	filters, err := s.monitor.ListFilters(ctx, owner, phone)
	if err != nil {
		return s.fail(ctx, err)
	}
	if len(filters) == 0 {
		return conf.Render(s.msgs.NoFilters, "phone", phone)
	}
	lines := []string{conf.Render(s.msgs.FiltersHeader, "phone", phone)}
	for i, f := range filters {
		lines = append(lines, conf.Render(s.msgs.FilterItem,
			"index", strconv.Itoa(i+1),
			"filter", f.Annotation(),
		))
	}
	return strings.Join(lines, "\n")
}

func (s *MonitorService) savedPhones(ctx context.Context, owner domain.OwnerID) ([]string, error) {
	creds, err := s.acq.ListCredentials(ctx, owner)
	if err != nil {
		return nil, err
	}
	phones := make([]string, len(creds))
	for i, c := range creds {
		phones[i] = c.Phone
	}
	return phones, nil
}

func (s *MonitorService) activePhones(owner domain.OwnerID) []string {
	subs := s.monitor.ListActive(owner)
	phones := make([]string, len(subs))
	for i, sub := range subs {
		phones[i] = sub.Phone
	}
	return phones
}

func (s *MonitorService) choose(cmd string, phones []string) string {
	return conf.Render(s.msgs.ChooseSession, "command", cmd, "list", numbered(phones))
}

func (s *MonitorService) fail(ctx context.Context, err error) string {
	switch domain.KindOf(err) {
	case domain.KindStore, domain.KindTransport, domain.KindUnknown:
		logger.C(ctx, s.log).Error().Err(err).Msg("request failed")
	}
	return conf.Render(s.msgs.Error, "error", domain.MessageOf(err))
}

// resolvePhone maps an argument to one of choices. An empty argument picks the
// only choice; a bare number is a 1-based index; anything else is a phone.
func resolvePhone(arg string, choices []string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		if len(choices) == 1 {
			return choices[0], nil
		}
		return "", errNeedChoice
	}
	if !strings.HasPrefix(arg, "+") {
		idx, err := strconv.Atoi(arg)
		if err != nil {
			return "", domain.NewError(domain.KindInvalidSelection, "send a phone number like +15551234567 or a number from the list")
		}
		if idx < 1 || idx > len(choices) {
			return "", domain.NewError(domain.KindInvalidSelection, "send a number between 1 and "+strconv.Itoa(len(choices)))
		}
		return choices[idx-1], nil
	}
	return arg, nil
}

// looksLikeTarget reports whether an addfilter token is a phone or index
func looksLikeTarget(tok string) bool {
	if strings.HasPrefix(tok, "+") {
		return true
	}
	_, err := strconv.Atoi(tok)
	return err == nil
}

func accountLabel(a domain.Account) string {
	label := a.DisplayName
	if label == "" {
		label = "id " + strconv.FormatInt(a.ID, 10)
	}
	if a.Username != "" && !strings.HasPrefix(label, "@") {
		label += " (@" + a.Username + ")"
	}
	return label
}

func filtersLabel(n int) string {
	if n == 0 {
		return "none, every message is forwarded"
	}
	return strconv.Itoa(n)
}

var _ Handler = (*MonitorService)(nil)
