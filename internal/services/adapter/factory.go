package adapter

import (
	"context"
	"path/filepath"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"atabat-scraper/internal/config"
	"atabat-scraper/internal/services/bale"
	"atabat-scraper/internal/services/browser"
	"atabat-scraper/internal/services/captcha"
	"atabat-scraper/internal/services/portal"
	"atabat-scraper/internal/services/session"
)

// Runtime is the automation core selected for this process.
type Runtime struct {
	Adapter   Adapter
	Exists    ExistenceChecker
	Refresher Refresher
	Mock      bool

	closers []func()
}

// Close releases the browsers in reverse start order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Build picks the implementation once from cfg. db may be nil, in which case
// the session lives only in the file store. rec is the OCR engine for the
// real portal and is ignored by the mock. Chrome starts lazily on first use.
func Build(cfg config.Config, db *mongo.Database, rec captcha.Recognizer, log *zap.Logger) *Runtime {
	if cfg.UseMock() {
		log.Info("Using simulated portal", zap.Duration("latency", cfg.MockLatency))
		m := NewMock(cfg.MockLatency, log)
		return &Runtime{Adapter: m, Exists: m, Refresher: m, Mock: true}
	}

	rt := &Runtime{}
	timeouts := Timeouts(cfg)

	var primary session.Backend
	if db != nil {
		primary = session.NewMongoStore(db)
	}
	store := session.NewStore(primary, session.NewFileStore(filepath.Join(cfg.DataDir, "session.json")), log)

	opts := browser.Options{
		Headless:      cfg.BrowserHeadless,
		KeepPagesOpen: cfg.KeepPagesOpen,
		ProbeURL:      portal.ProbeURL(cfg.PortalBaseURL),
		SessionMarker: portal.SessionMarker,
		Timeouts:      timeouts,
	}
	shared := browser.New(opts, store, log)
	rt.closers = append(rt.closers, shared.Close)

	deps := portal.Deps{
		Pages:  portal.Chrome(shared),
		Store:  store,
		Solver: captcha.NewSolver(rec, filepath.Join(cfg.DataDir, "captcha"), log),
		Fresh: func(context.Context) (portal.Pages, func(), error) {
			fresh := opts
			fresh.Fresh = true
			b := browser.New(fresh, nil, log.Named("refresh"))
			return portal.Chrome(b), b.Close, nil
		},
	}
	if cfg.BaleChatURL != "" {
		relay, closeRelay := NewRelay(cfg, cfg.BrowserHeadless, log)
		deps.OTP = relay
		rt.closers = append(rt.closers, closeRelay)
	} else {
		log.Warn("No relay chat configured, the stored OTP is used as is")
	}

	p := portal.New(portal.Config{
		BaseURL:            cfg.PortalBaseURL,
		Username:           cfg.PortalUsername,
		Password:           cfg.PortalPassword,
		CaptchaMaxAttempts: cfg.CaptchaMaxAttempts,
		Timeouts:           timeouts,
	}, deps, log)

	automation := NewReal(p, log)
	rt.Adapter, rt.Exists, rt.Refresher = automation, automation, automation
	return rt
}

// NewRelay opens the messaging relay on its own persistent Chrome profile.
// The returned func closes that browser.
func NewRelay(cfg config.Config, headless bool, log *zap.Logger) (*bale.Fetcher, func()) {
	b := browser.New(browser.Options{
		Headless:    headless,
		UserDataDir: cfg.BaleProfileDir,
		Timeouts:    Timeouts(cfg),
	}, nil, log.Named("relay"))
	f := bale.New(bale.Config{
		LoginURL:    cfg.BaleLoginURL,
		ChatURL:     cfg.BaleChatURL,
		SenderTitle: cfg.BaleSenderTitle,
		Phone:       cfg.BalePhone,
	}, b, log)
	return f, b.Close
}

// Timeouts maps the configured wait tiers, keeping defaults for unset ones.
func Timeouts(cfg config.Config) browser.Timeouts {
	t := browser.DefaultTimeouts()
	if cfg.TimeoutShort > 0 {
		t.Short = cfg.TimeoutShort
	}
	if cfg.TimeoutMedium > 0 {
		t.Medium = cfg.TimeoutMedium
	}
	if cfg.TimeoutLong > 0 {
		t.Long = cfg.TimeoutLong
	}
	if cfg.TimeoutAjax > 0 {
		t.Ajax = cfg.TimeoutAjax
	}
	return t
}
