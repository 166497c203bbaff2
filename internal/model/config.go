package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	HistoryBackendFile   = "file"
	HistoryBackendSQLite = "sqlite"

	DefaultAddr            = ":5002"
	DefaultToolPath        = "go"
	DefaultEntry           = "app.go"
	DefaultModeFlag        = "-lc"
	DefaultTimeout         = 5 * time.Minute
	DefaultModeTimeout     = 10 * time.Minute
	DefaultWaitDelay       = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultSessionTTL      = 24 * time.Hour
	DefaultSweep           = "10m"
)

var DefaultToolArgs = []string{"run"}

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Verbose bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Server  Server  `json:"server" yaml:"server"`
	Tool    Tool    `json:"tool" yaml:"tool"`
	Auth    Auth    `json:"auth" yaml:"auth"`
	History History `json:"history" yaml:"history"`
}

// Server is the HTTP listener configuration.
type Server struct {
	Addr               string `json:"addr,omitempty" yaml:"addr,omitempty"`
	StaticDir          string `json:"static_dir,omitempty" yaml:"static_dir,omitempty"`
	CancelOnDisconnect bool   `json:"cancel_on_disconnect,omitempty" yaml:"cancel_on_disconnect,omitempty"`
	ShutdownTimeout    string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// Tool describes the external command run for every invocation.
// The argument vector is Args, then Entry (if any), then ModeFlag when the
// alternate mode is requested.
type Tool struct {
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Entry       *string           `json:"entry,omitempty" yaml:"entry,omitempty"`         // nil => app.go, "" => none
	Dir         string            `json:"dir" yaml:"dir"`                                 // working directory of the child
	ModeFlag    *string           `json:"mode_flag,omitempty" yaml:"mode_flag,omitempty"` // nil => -lc
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ModeTimeout string            `json:"mode_timeout,omitempty" yaml:"mode_timeout,omitempty"`
	WaitDelay   string            `json:"wait_delay,omitempty" yaml:"wait_delay,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

type Auth struct {
	Users        []User    `json:"users,omitempty" yaml:"users,omitempty"`
	SessionTTL   string    `json:"session_ttl,omitempty" yaml:"session_ttl,omitempty"`
	CookieSecure bool      `json:"cookie_secure,omitempty" yaml:"cookie_secure,omitempty"`
	Sweep        *Schedule `json:"sweep,omitempty" yaml:"sweep,omitempty"`
}

type User struct {
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"password_hash" yaml:"password_hash"`
}

// Schedule is either a cron expression or a fixed duration.
type Schedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type History struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"` // "file" | "sqlite"
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultConfig returns a configuration running `go run app.go` in the
// current working directory. Users are not populated.
func DefaultConfig(ctx context.Context) Config {
	dir, err := os.Getwd()
	if err != nil {
		slog.WarnContext(ctx, "can't get working directory", "error", err)
		dir = "."
	}
	entry := DefaultEntry
	modeFlag := DefaultModeFlag
	return Config{
		Version: 0,
		Server: Server{
			Addr:            DefaultAddr,
			ShutdownTimeout: "30s",
		},
		Tool: Tool{
			Path:        DefaultToolPath,
			Args:        append([]string(nil), DefaultToolArgs...),
			Entry:       &entry,
			Dir:         dir,
			ModeFlag:    &modeFlag,
			Timeout:     "5m",
			ModeTimeout: "10m",
		},
		Auth: Auth{
			SessionTTL: "24h",
			Sweep:      &Schedule{Duration: DefaultSweep},
		},
		History: History{
			Backend: HistoryBackendFile,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks constraints the schema can't express.
func (c Config) Validate() error {
	var errs []error
	type field struct{ name, value string }
	durations := []field{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"tool.timeout", c.Tool.Timeout},
		{"tool.mode_timeout", c.Tool.ModeTimeout},
		{"tool.wait_delay", c.Tool.WaitDelay},
		{"auth.session_ttl", c.Auth.SessionTTL},
	}
	if c.Auth.Sweep != nil {
		durations = append(durations, field{"auth.sweep.duration", c.Auth.Sweep.Duration})
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := ParseCueDuration(d.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
			continue
		}
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %q", d.name, d.value))
		}
	}

	if s := c.Auth.Sweep; s != nil {
		if s.Cron != "" && s.Duration != "" {
			errs = append(errs, errors.New("auth.sweep: cron and duration are mutually exclusive"))
		}
		if s.Cron != "" {
			if _, err := ParseCron(s.Cron); err != nil {
				errs = append(errs, fmt.Errorf("auth.sweep.cron: %w", err))
			}
		}
	}

	if c.History.Backend == HistoryBackendSQLite && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required for the sqlite backend"))
	}
	return errors.Join(errs...)
}

// Deadlines returns the deadline of a default and of a mode flagged invocation.
func (t Tool) Deadlines() (normal, mode time.Duration, err error) {
	normal, err = durationOr(t.Timeout, DefaultTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing tool.timeout: %w", err)
	}
	mode, err = durationOr(t.ModeTimeout, DefaultModeTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing tool.mode_timeout: %w", err)
	}
	if normal <= 0 || mode <= 0 {
		return 0, 0, fmt.Errorf("tool.timeout and tool.mode_timeout must be positive, got %s and %s", normal, mode)
	}
	return normal, mode, nil
}

// Argv returns the argument vector without the executable.
func (t Tool) Argv(modeFlag bool) []string {
	args := t.Args
	if args == nil {
		args = DefaultToolArgs
	}
	ret := append([]string(nil), args...)
	if entry := t.EntryPath(); entry != "" {
		ret = append(ret, entry)
	}
	if modeFlag {
		if flag := getOr(t.ModeFlag, DefaultModeFlag); flag != "" {
			ret = append(ret, flag)
		}
	}
	return ret
}

// EntryPath returns the entry point as configured, "" when disabled.
func (t Tool) EntryPath() string {
	return getOr(t.Entry, DefaultEntry)
}

func (t Tool) Executable() string {
	if t.Path == "" {
		return DefaultToolPath
	}
	return t.Path
}

// Environ expands $VARIABLES in configured values and returns KEY=value pairs.
func (t Tool) Environ() []string {
	env := make([]string, 0, len(t.Env))
	for k, v := range t.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

func (t Tool) WaitDelayDuration() (time.Duration, error) {
	return durationOr(t.WaitDelay, DefaultWaitDelay)
}

func (s Server) ShutdownTimeoutDuration() (time.Duration, error) {
	return durationOr(s.ShutdownTimeout, DefaultShutdownTimeout)
}

func (a Auth) SessionTTLDuration() (time.Duration, error) {
	return durationOr(a.SessionTTL, DefaultSessionTTL)
}

func durationOr(s string, dflt time.Duration) (time.Duration, error) {
	if s == "" {
		return dflt, nil
	}
	return ParseCueDuration(s)
}

func getOr[T any](pt *T, dflt T) T {
	if pt == nil {
		return dflt
	}
	return *pt
}
