// Package usage implements daily viewing-time enforcement: profile configs,
// playback sessions, heartbeat accounting, balances and guardian grants.
package usage

import (
	"time"

	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/rs/zerolog"
)

// Options tune enforcement policy
type Options struct {
	HeartbeatInterval time.Duration
	PauseGrace        time.Duration
	Defaults          Defaults
	ConfigCacheSize   int
	ConfigCacheTTL    time.Duration
}

// Service wires the enforcement components over one store
type Service struct {
	Directory *Directory
	Configs   *ConfigService
	Tracker   *Tracker
	Processor *Processor
	Ledger    *Ledger
	Grants    *GrantService
}

// New builds the enforcement components
func New(store storage.Store, titles catalog.Catalog, publisher notify.Publisher, clock window.Clock, opts Options, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = window.RealClock{}
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}

	directory := NewDirectory(store.Profiles(), logger)
	configs := NewConfigService(store.Configs(), opts.Defaults, opts.ConfigCacheSize, opts.ConfigCacheTTL, clock, logger)
	tracker := NewTracker(store.Sessions(), titles, directory, publisher, opts.PauseGrace, logger)

	return &Service{
		Directory: directory,
		Configs:   configs,
		Tracker:   tracker,
		Processor: NewProcessor(directory, configs, store.Balances(), tracker, publisher, opts.HeartbeatInterval, logger),
		Ledger:    NewLedger(directory, configs, store.Balances(), clock),
		Grants:    NewGrantService(directory, configs, store.Balances(), store.Grants(), publisher, clock, logger),
	}
}
