package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	KindICS    = "ics"
	KindCalDAV = "caldav"
	KindGoogle = "google"
)

// SourceConfig describes one calendar feed or account.
type SourceConfig struct {
	// ID is an internal identifier used for logging and failure reports.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label, also the fallback calendar name.
	Name string `yaml:"name" json:"name"`
	// Kind is one of "ics", "caldav" or "google".
	Kind string `yaml:"kind" json:"kind"`

	// URL is the ICS subscription endpoint or the CalDAV server root.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Headers are sent with every ICS request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// AttendeeEmail identifies the viewer among ICS/CalDAV attendees.
	AttendeeEmail string `yaml:"attendee_email,omitempty" json:"attendee_email,omitempty"`

	// CalDAV credentials and collection path.
	Username     string `yaml:"username,omitempty" json:"username,omitempty"`
	Password     string `yaml:"password,omitempty" json:"-"`
	CalendarPath string `yaml:"calendar_path,omitempty" json:"calendar_path,omitempty"`

	// Google OAuth client and token. Tokens are obtained out of band.
	ClientID     string    `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string    `yaml:"client_secret,omitempty" json:"-"`
	AccessToken  string    `yaml:"access_token,omitempty" json:"-"`
	RefreshToken string    `yaml:"refresh_token,omitempty" json:"-"`
	TokenExpiry  time.Time `yaml:"token_expiry,omitempty" json:"-"`
	// Calendars lists Google calendar ids; empty means "primary".
	Calendars []string `yaml:"calendars,omitempty" json:"calendars,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig selects where rendered payloads are cached by the HTTP layer.
type CacheConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend       string        `yaml:"backend" json:"backend"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	RedisAddr     string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty" json:"-"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as the viewer's display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday starts a week. Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh in serve mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Layout is the default layout mode (default, today_only, week, month,
	// rolling_month, schedule).
	Layout string `yaml:"layout" json:"layout"`

	IncludePastEvents bool `yaml:"include_past_events" json:"include_past_events"`
	// EventStatusFilter is "all" (default) or "confirmed_only".
	EventStatusFilter string `yaml:"event_status_filter" json:"event_status_filter"`

	// IgnorePhrases / IgnorePhrasesExact are comma or newline separated lists.
	IgnorePhrases      string `yaml:"ignore_phrases" json:"ignore_phrases"`
	IgnorePhrasesExact string `yaml:"ignore_phrases_exact" json:"ignore_phrases_exact"`

	IncludeDescription bool `yaml:"include_description" json:"include_description"`
	// TimeFormat is "am/pm" (default) or "24h".
	TimeFormat string `yaml:"time_format" json:"time_format"`
	// DayFormat is a Go time layout used for day group labels.
	DayFormat string `yaml:"day_format" json:"day_format"`
	// GroupByDay is "auto" (follow the layout), "yes" or "no".
	GroupByDay string `yaml:"group_by_day" json:"group_by_day"`

	// ScrollTime / ScrollTimeEnd override the computed visible hour range ("08:00:00").
	ScrollTime    string `yaml:"scroll_time,omitempty" json:"scroll_time,omitempty"`
	ScrollTimeEnd string `yaml:"scroll_time_end,omitempty" json:"scroll_time_end,omitempty"`

	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	CacheDir     string        `yaml:"cache_dir" json:"cache_dir"`

	Cache CacheConfig `yaml:"cache" json:"cache"`
	Log   LogConfig   `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Sources is the list of calendars to aggregate, in priority order.
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8080",
		Timezone:           "UTC",
		WeekStart:          "monday",
		RefreshCron:        "*/15 * * * *",
		Layout:             "default",
		IncludePastEvents:  true,
		EventStatusFilter:  "all",
		IncludeDescription: true,
		TimeFormat:         "am/pm",
		DayFormat:          "January 02",
		GroupByDay:         "auto",
		FetchTimeout:       15 * time.Second,
		CacheDir:           "./var/ics-cache",
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sources: []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.WeekStart = oneOf(strings.ToLower(c.WeekStart), d.WeekStart, "monday", "sunday")
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.Layout == "" {
		c.Layout = d.Layout
	}
	c.EventStatusFilter = oneOf(strings.ToLower(c.EventStatusFilter), d.EventStatusFilter, "all", "confirmed_only")
	c.TimeFormat = oneOf(strings.ToLower(c.TimeFormat), d.TimeFormat, "am/pm", "24h")
	if c.DayFormat == "" {
		c.DayFormat = d.DayFormat
	}
	c.GroupByDay = oneOf(strings.ToLower(c.GroupByDay), d.GroupByDay, "auto", "yes", "no")
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	c.Cache.Backend = oneOf(strings.ToLower(c.Cache.Backend), d.Cache.Backend, "memory", "redis")
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Log.Format = oneOf(strings.ToLower(c.Log.Format), d.Log.Format, "json", "console")
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.Kind == "" {
			s.Kind = KindICS
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s-%d", s.Kind, i+1)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Kind == KindGoogle && len(s.Calendars) == 0 {
			s.Calendars = []string{"primary"}
		}
	}
}

// Validate reports configuration errors Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("source %q: duplicate id", s.ID))
		}
		seen[s.ID] = true

		switch s.Kind {
		case KindICS:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("source %q: url is required", s.ID))
			}
		case KindCalDAV:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("source %q: url is required", s.ID))
			}
		case KindGoogle:
			if s.AccessToken == "" && s.RefreshToken == "" {
				errs = append(errs, fmt.Errorf("source %q: access_token or refresh_token is required", s.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown kind %q", s.ID, s.Kind))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func oneOf(v, def string, allowed ...string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML over the defaults
//   - apply CALAGG_* environment overrides
//   - normalize and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			ApplyEnv(cfg)
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	ApplyEnv(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calagg-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
