package fsstream

import (
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AwaitWriteFinish configures the write-stabilization monitor (spec.md
// §4.5). When Enabled, StabilityThreshold and PollInterval default to 2s and
// 100ms respectively if left zero.
type AwaitWriteFinish struct {
	Enabled            bool
	StabilityThreshold time.Duration
	PollInterval       time.Duration
}

// Atomic configures the atomic-save reconciler (spec.md §4.6). Enabled is a
// tri-state: nil means "true iff the active backend is non-polling and
// non-recursive" (spec.md §6); Window, if zero, defaults to
// DefaultAtomicWindow.
type Atomic struct {
	Enabled *bool
	Window  time.Duration
}

// Config is the frozen configuration of an Engine. It is built only via
// Option functions passed to New and is never mutated afterward — the
// "frozen configuration" design note in spec.md §9, enforced structurally:
// there is no setter, only the options applied once inside New.
type Config struct {
	Persistent             bool
	IgnoreInitial          bool
	IgnorePermissionErrors bool
	Interval               time.Duration
	BinaryInterval         time.Duration
	DisableGlobbing        bool
	UseFsEvents            *bool // nil = auto-detect
	UsePolling             bool
	Atomic                 Atomic
	FollowSymlinks         bool
	AwaitWriteFinish       AwaitWriteFinish
	IgnoredPatterns        []string
	IgnoredPredicates      []Predicate
	Cwd                    string
	AlwaysStat             bool
}

// Option mutates a Config during New; it is unexported-by-convention usage
// (Config has no public setters) so the only way to shape a Config is
// through these functions, matching the teacher's AddWith/addOpt pattern.
type Option func(*Config)

func WithPersistent(v bool) Option             { return func(c *Config) { c.Persistent = v } }
func WithIgnoreInitial(v bool) Option           { return func(c *Config) { c.IgnoreInitial = v } }
func WithIgnorePermissionErrors(v bool) Option  { return func(c *Config) { c.IgnorePermissionErrors = v } }
func WithInterval(d time.Duration) Option       { return func(c *Config) { c.Interval = d } }
func WithBinaryInterval(d time.Duration) Option { return func(c *Config) { c.BinaryInterval = d } }
func WithDisableGlobbing(v bool) Option         { return func(c *Config) { c.DisableGlobbing = v } }
func WithUseFsEvents(v bool) Option             { return func(c *Config) { c.UseFsEvents = &v } }
func WithUsePolling(v bool) Option              { return func(c *Config) { c.UsePolling = v } }
func WithFollowSymlinks(v bool) Option          { return func(c *Config) { c.FollowSymlinks = v } }
func WithCwd(dir string) Option                 { return func(c *Config) { c.Cwd = dir } }
func WithAlwaysStat(v bool) Option              { return func(c *Config) { c.AlwaysStat = v } }

// WithAtomic enables or disables atomic-save reconciliation explicitly,
// overriding the non-polling/non-recursive default, and sets the debounce
// window if nonzero.
func WithAtomic(enabled bool, window time.Duration) Option {
	return func(c *Config) { c.Atomic = Atomic{Enabled: &enabled, Window: window} }
}

// WithAwaitWriteFinish enables write-stabilization with the given
// parameters; zero values fall back to the documented defaults
// (2s/100ms).
func WithAwaitWriteFinish(stabilityThreshold, pollInterval time.Duration) Option {
	return func(c *Config) {
		c.AwaitWriteFinish = AwaitWriteFinish{Enabled: true, StabilityThreshold: stabilityThreshold, PollInterval: pollInterval}
	}
}

// WithIgnored adds glob patterns to the ignore set.
func WithIgnored(patterns ...string) Option {
	return func(c *Config) { c.IgnoredPatterns = append(c.IgnoredPatterns, patterns...) }
}

// WithIgnoredPredicate adds a predicate-form ignore test.
func WithIgnoredPredicate(p Predicate) Option {
	return func(c *Config) { c.IgnoredPredicates = append(c.IgnoredPredicates, p) }
}

// NewConfig builds a frozen Config from defaults, the given options, and the
// CHOKIDAR_* environment overrides (spec.md §6), in that precedence order
// (env overrides win, matching the teacher's own environment-sensitive
// default for usePolling on macOS).
func NewConfig(opts ...Option) Config {
	c := Config{
		Persistent:     true,
		Interval:       100 * time.Millisecond,
		BinaryInterval: 300 * time.Millisecond,
		FollowSymlinks: true,
		UsePolling:     runtime.GOOS == "darwin", // auto *true* on macOS without a recursive backend
	}
	for _, o := range opts {
		o(&c)
	}
	applyEnvOverrides(&c)
	if c.AwaitWriteFinish.Enabled {
		if c.AwaitWriteFinish.StabilityThreshold == 0 {
			c.AwaitWriteFinish.StabilityThreshold = 2000 * time.Millisecond
		}
		if c.AwaitWriteFinish.PollInterval == 0 {
			c.AwaitWriteFinish.PollInterval = 100 * time.Millisecond
		}
	}
	return c
}

// applyEnvOverrides reads CHOKIDAR_USEPOLLING and CHOKIDAR_INTERVAL via
// viper's environment binding, centralizing env/flag precedence the way the
// cmd/fswatch CLI's own viper instance does.
//
// CHOKIDAR_USEPOLLING follows the source behavior verbatim: "true"/"1" force
// polling on, "false"/"0" force it off, and any other non-empty value is
// truthy by coercion — plausibly unintended (spec.md §9's first open
// question), but documented and preserved rather than silently "fixed".
func applyEnvOverrides(c *Config) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.BindEnv("CHOKIDAR_USEPOLLING")
	v.BindEnv("CHOKIDAR_INTERVAL")

	if raw := v.GetString("CHOKIDAR_USEPOLLING"); raw != "" {
		switch strings.ToLower(raw) {
		case "false", "0":
			c.UsePolling = false
		default:
			c.UsePolling = true
		}
	}
	if raw := v.GetString("CHOKIDAR_INTERVAL"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.Interval = time.Duration(n) * time.Millisecond
		}
	}
}

// atomicEnabled resolves the effective atomic-save setting for the active
// backend kind, applying the spec.md §6 default ("true iff non-polling and
// non-recursive") when Enabled wasn't explicitly set.
func (c Config) atomicEnabled(backendIsPolling, backendIsRecursive bool) bool {
	if c.Atomic.Enabled != nil {
		return *c.Atomic.Enabled
	}
	return !backendIsPolling && !backendIsRecursive
}

func (c Config) atomicWindow() time.Duration {
	if c.Atomic.Window > 0 {
		return c.Atomic.Window
	}
	return DefaultAtomicWindow
}
