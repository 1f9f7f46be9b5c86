package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// MessagesConfig contains every bot reply text loaded from YAML.
// Placeholders are written as {{name}}.
type MessagesConfig struct {
	Session SessionMessages `yaml:"session"`
	Monitor MonitorMessages `yaml:"monitor"`
}

// SessionMessages are the replies of the session bot
type SessionMessages struct {
	Help           string `yaml:"help"`
	AskPhone       string `yaml:"ask_phone"`
	AskCode        string `yaml:"ask_code"`
	AskPassword    string `yaml:"ask_password"`
	Saved          string `yaml:"saved"`
	Aborted        string `yaml:"aborted"`
	Error          string `yaml:"error"`
	NoSessions     string `yaml:"no_sessions"`
	SessionsHeader string `yaml:"sessions_header"`
	SessionItem    string `yaml:"session_item"`
	DeletePrompt   string `yaml:"delete_prompt"`
	Deleted        string `yaml:"deleted"`
	Cancelled      string `yaml:"cancelled"`
	NothingPending string `yaml:"nothing_pending"`
	Unknown        string `yaml:"unknown"`
}

// MonitorMessages are the replies of the monitor bot
type MonitorMessages struct {
	Help            string `yaml:"help"`
	Attached        string `yaml:"attached"`
	AlreadyAttached string `yaml:"already_attached"`
	Detached        string `yaml:"detached"`
	DetachedAll     string `yaml:"detached_all"`
	NotMonitored    string `yaml:"not_monitored"`
	NoMonitors      string `yaml:"no_monitors"`
	MonitorsHeader  string `yaml:"monitors_header"`
	MonitorItem     string `yaml:"monitor_item"`
	ChooseSession   string `yaml:"choose_session"`
	NoSessions      string `yaml:"no_sessions"`
	FilterAdded     string `yaml:"filter_added"`
	FiltersHeader   string `yaml:"filters_header"`
	FilterItem      string `yaml:"filter_item"`
	NoFilters       string `yaml:"no_filters"`
	AddFilterUsage  string `yaml:"addfilter_usage"`
	Error           string `yaml:"error"`
}

// LoadMessagesConfig loads reply texts from YAML, falling back to defaults
func LoadMessagesConfig(configPath string) (*MessagesConfig, error) {
	log := logger.Named("config")

	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/messages.yaml",
			"/etc/tg-session-watch/messages.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "messages.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("messages config %s not readable", configPath)
		}
		log.Debug().Msg("no messages.yaml found, using defaults")
		return DefaultMessagesConfig(), nil
	}

	log.Info().Str("path", loadedPath).Msg("loading messages")

	var config MessagesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse messages.yaml: %w", err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

func fill(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// fillDefaults fills in default values for empty fields
func (c *MessagesConfig) fillDefaults() {
	d := DefaultMessagesConfig()

	s, ds := &c.Session, d.Session
	fill(&s.Help, ds.Help)
	fill(&s.AskPhone, ds.AskPhone)
	fill(&s.AskCode, ds.AskCode)
	fill(&s.AskPassword, ds.AskPassword)
	fill(&s.Saved, ds.Saved)
	fill(&s.Aborted, ds.Aborted)
	fill(&s.Error, ds.Error)
	fill(&s.NoSessions, ds.NoSessions)
	fill(&s.SessionsHeader, ds.SessionsHeader)
	fill(&s.SessionItem, ds.SessionItem)
	fill(&s.DeletePrompt, ds.DeletePrompt)
	fill(&s.Deleted, ds.Deleted)
	fill(&s.Cancelled, ds.Cancelled)
	fill(&s.NothingPending, ds.NothingPending)
	fill(&s.Unknown, ds.Unknown)

	m, dm := &c.Monitor, d.Monitor
	fill(&m.Help, dm.Help)
	fill(&m.Attached, dm.Attached)
	fill(&m.AlreadyAttached, dm.AlreadyAttached)
	fill(&m.Detached, dm.Detached)
	fill(&m.DetachedAll, dm.DetachedAll)
	fill(&m.NotMonitored, dm.NotMonitored)
	fill(&m.NoMonitors, dm.NoMonitors)
	fill(&m.MonitorsHeader, dm.MonitorsHeader)
	fill(&m.MonitorItem, dm.MonitorItem)
	fill(&m.ChooseSession, dm.ChooseSession)
	fill(&m.NoSessions, dm.NoSessions)
	fill(&m.FilterAdded, dm.FilterAdded)
	fill(&m.FiltersHeader, dm.FiltersHeader)
	fill(&m.FilterItem, dm.FilterItem)
	fill(&m.NoFilters, dm.NoFilters)
	fill(&m.AddFilterUsage, dm.AddFilterUsage)
	fill(&m.Error, dm.Error)
}

// Render replaces {{key}} placeholders; kv alternates keys and values
func Render(tmpl string, kv ...string) string {
	if len(kv) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{{"+kv[i]+"}}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// DefaultMessagesConfig returns the built-in reply texts
func DefaultMessagesConfig() *MessagesConfig {
	return &MessagesConfig{
		Session: SessionMessages{
			Help: `👋 I create Telegram session strings for your accounts.

/newsession - log in with a phone number and save the session
/mysessions - list saved sessions
/delsession - delete a saved session
/cancel - abort the current step

You can keep up to {{max}} sessions.`,
			AskPhone:       "📱 Send the phone number in international format, e.g. +15551234567.\nSend /cancel to abort.",
			AskCode:        "📨 Telegram sent a login code to {{phone}}. Send it here, digits only.",
			AskPassword:    "🔐 This account has two-step verification. Send the password.",
			Saved:          "✅ Session for {{phone}} saved.\n\n{{blob}}\n\nKeep this string private: it grants full access to the account.",
			Aborted:        "❌ {{error}}\nSend /newsession to start again.",
			Error:          "❌ {{error}}",
			NoSessions:     "You have no saved sessions. Send /newsession to create one.",
			SessionsHeader: "📋 Your sessions ({{count}}/{{max}}):",
			SessionItem:    "{{index}}. {{phone}} ({{preview}})",
			DeletePrompt:   "🗑 Which session should be deleted? Send its number:\n{{list}}",
			Deleted:        "✅ Session {{phone}} deleted.",
			Cancelled:      "✅ Cancelled.",
			NothingPending: "Nothing to cancel.",
			Unknown:        "Send /help to see what I can do.",
		},
		Monitor: MonitorMessages{
			Help: `👁 I forward private messages received by your saved accounts.

/addmonitor [phone|index] - start monitoring a saved session
/stopmonitor [phone|index|all] - stop monitoring
/mymonitors - list active monitors
/addfilter [phone] <keyword|regex|all> [value] - only forward matching messages
/filters [phone] - list filters

Without filters every message is forwarded.`,
			Attached:        "✅ Monitoring {{phone}} as {{account}}. Filters: {{filters}}.",
			AlreadyAttached: "ℹ️ {{phone}} is already monitored.",
			Detached:        "✅ Stopped monitoring {{phone}}.",
			DetachedAll:     "✅ Stopped {{count}} monitor(s).",
			NotMonitored:    "❌ {{phone}} is not being monitored.",
			NoMonitors:      "No active monitors. Use /addmonitor to start one.",
			MonitorsHeader:  "👁 Active monitors:",
			MonitorItem:     "{{index}}. {{phone}} as {{account}}, {{filters}} filter(s), since {{since}}",
			ChooseSession:   "Which session? Send /{{command}} <phone|index>:\n{{list}}",
			NoSessions:      "❌ You have no saved sessions. Create one with the session bot first.",
			FilterAdded:     "✅ Filter #{{id}} added to {{phone}}: {{filter}}",
			FiltersHeader:   "🔎 Filters for {{phone}} (first match wins):",
			FilterItem:      "{{index}}. {{filter}}",
			NoFilters:       "No filters for {{phone}}, every message is forwarded.",
			AddFilterUsage:  "❌ Usage: /addfilter [phone] <keyword|regex|all> [value]",
			Error:           "❌ {{error}}",
		},
	}
}
