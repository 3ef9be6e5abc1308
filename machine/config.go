package machine

import (
	"log/slog"
	"time"

	"github.com/mastercactapus/cnclink/transport"
)

const (
	DefaultStatusInterval   = 200 * time.Millisecond
	DefaultDiagnoseInterval = 500 * time.Millisecond
	DefaultTick             = 10 * time.Millisecond
	DefaultShutdownWait     = 2 * time.Second
	DefaultHistorySize      = 100
	DefaultLogCapacity      = 4096
	DefaultTransferRetry    = 10
	DefaultCommandTimeout   = 30 * time.Second
)

// DialFunc returns an unopened transport of the given kind.
type DialFunc func(kind transport.Kind, log *slog.Logger) (transport.Transport, error)

// Config configures a Controller. Zero values take the defaults.
type Config struct {
	// StatusInterval is the keep-alive status query cadence while idle.
	StatusInterval time.Duration
	// DiagnoseInterval is the diagnose query cadence while diagnosing.
	DiagnoseInterval time.Duration
	// Tick is the background loop period.
	Tick time.Duration
	// ShutdownWait bounds how long Disconnect waits for the loop.
	ShutdownWait time.Duration

	HistorySize int
	// LogCapacity caps the undrained log queue; the oldest entries go first.
	LogCapacity int

	TransferRetry   int
	TransferTimeout time.Duration

	// InchMachine makes loaded programs use inches as the native unit.
	InchMachine bool

	Dial    DialFunc
	Updater Updater
	Logger  *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.DiagnoseInterval == 0 {
		cfg.DiagnoseInterval = DefaultDiagnoseInterval
	}
	if cfg.Tick == 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.ShutdownWait == 0 {
		cfg.ShutdownWait = DefaultShutdownWait
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.LogCapacity == 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	if cfg.TransferRetry == 0 {
		cfg.TransferRetry = DefaultTransferRetry
	}
	if cfg.Dial == nil {
		cfg.Dial = transport.New
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
