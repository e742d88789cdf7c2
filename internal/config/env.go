package config

import (
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for overrides, e.g.
// CALAGG_TIMEZONE or CALAGG_CACHE_REDIS_ADDR.
const envPrefix = "CALAGG"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// ApplyEnv overlays CALAGG_* environment variables onto the scalar keys of
// cfg. Sources are file-only.
func ApplyEnv(cfg *Config) {
	v := newViper()

	str := map[string]*string{
		"listen":               &cfg.Listen,
		"timezone":             &cfg.Timezone,
		"week_start":           &cfg.WeekStart,
		"refresh":              &cfg.RefreshCron,
		"layout":               &cfg.Layout,
		"event_status_filter":  &cfg.EventStatusFilter,
		"ignore_phrases":       &cfg.IgnorePhrases,
		"ignore_phrases_exact": &cfg.IgnorePhrasesExact,
		"time_format":          &cfg.TimeFormat,
		"day_format":           &cfg.DayFormat,
		"group_by_day":         &cfg.GroupByDay,
		"scroll_time":          &cfg.ScrollTime,
		"scroll_time_end":      &cfg.ScrollTimeEnd,
		"cache_dir":            &cfg.CacheDir,
		"cache.backend":        &cfg.Cache.Backend,
		"cache.redis_addr":     &cfg.Cache.RedisAddr,
		"cache.redis_password": &cfg.Cache.RedisPassword,
		"log.level":            &cfg.Log.Level,
		"log.format":           &cfg.Log.Format,
	}
	for key, dst := range str {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	if v.IsSet("include_past_events") {
		cfg.IncludePastEvents = v.GetBool("include_past_events")
	}
	if v.IsSet("include_description") {
		cfg.IncludeDescription = v.GetBool("include_description")
	}
	if v.IsSet("fetch_timeout") {
		cfg.FetchTimeout = v.GetDuration("fetch_timeout")
	}
	if v.IsSet("cache.ttl") {
		cfg.Cache.TTL = v.GetDuration("cache.ttl")
	}
	if v.IsSet("cache.redis_db") {
		cfg.Cache.RedisDB = v.GetInt("cache.redis_db")
	}
}
