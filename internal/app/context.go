package app

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Checker-Finance/panelbot/internal/panel"
	"github.com/Checker-Finance/panelbot/internal/power"
	"github.com/Checker-Finance/panelbot/internal/rate"
	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/internal/store"
	"github.com/Checker-Finance/panelbot/pkg/config"
	"github.com/Checker-Finance/panelbot/pkg/eventbus"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

// Panel names.
const (
	PanelCore   = "core"
	PanelPublic = "public"
)

// Panel is one configured control panel with its command names and core components.
type Panel struct {
	Target        panel.Target
	Command       string // power command, e.g. core-panel
	SetKeyCommand string // e.g. set-core-api-key
	Dispatcher    *power.Dispatcher
	Suggester     *power.Suggester
}

// Context is the process-wide state built once at startup and handed to
// the bot. Nothing else holds these dependencies globally.
type Context struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.Store
	Reporter report.Reporter
	Bus      *eventbus.EventBus
	Panels   []*Panel
}

// New builds the Context and one Panel per configured host. The public panel
// exists only when PublicPanelHost is set.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	st store.Store,
	reporter report.Reporter,
	bus *eventbus.EventBus,
	httpClient *http.Client,
) *Context {
	if reporter == nil {
		reporter = report.Nop{}
	}
	c := &Context{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		Reporter: reporter,
		Bus:      bus,
	}

	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: float64(cfg.PanelRPS),
		Burst:             cfg.PanelBurst,
	})

	c.Panels = append(c.Panels, c.newPanel(PanelCore, cfg.CorePanelHost, model.FieldCorePanelKey, rateMgr, httpClient))
	if cfg.PublicPanelHost != "" {
		c.Panels = append(c.Panels, c.newPanel(PanelPublic, cfg.PublicPanelHost, model.FieldPublicPanelKey, rateMgr, httpClient))
	}
	return c
}

func (c *Context) newPanel(name, host string, field model.CredentialField, rateMgr *rate.Manager, httpClient *http.Client) *Panel {
	target := panel.Target{Name: name, Host: host, Field: field}
	bound := power.Panel{Target: target, BaseURL: target.BaseURL(c.Config.PanelScheme)}
	client := panel.NewClient(c.Logger, rateMgr, httpClient, name, c.Config.PanelUserAgent)

	return &Panel{
		Target:        target,
		Command:       name + "-panel",
		SetKeyCommand: "set-" + name + "-api-key",
		Dispatcher:    power.NewDispatcher(c.Logger, bound, c.Store, client, c.Reporter, c.Bus),
		Suggester:     power.NewSuggester(bound, c.Store, client),
	}
}

// Panel returns the configured panel called name.
func (c *Context) Panel(name string) (*Panel, bool) {
	for _, p := range c.Panels {
		if p.Target.Name == name {
			return p, true
		}
	}
	return nil, false
}

// PanelByCommand returns the panel whose power or set-key command is name.
func (c *Context) PanelByCommand(name string) (*Panel, bool) {
	for _, p := range c.Panels {
		if p.Command == name || p.SetKeyCommand == name {
			return p, true
		}
	}
	return nil, false
}
