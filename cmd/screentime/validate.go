package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/screentime/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the Screentime configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Default(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns the set of configuration keys. Every key has a
// default, so the defaults enumerate them.
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpEntry is one effective value next to its default
type dumpEntry struct {
	key        string
	value, def interface{}
}

// dumpSection groups entries under a config section header
type dumpSection struct {
	header  string
	entries []dumpEntry
}

// configSections lists every effective value beside its default, section by section
func configSections(cfg, def *config.Config) []dumpSection {
	return []dumpSection{
		{"server", []dumpEntry{
			{"bind_address", cfg.Server.BindAddress, def.Server.BindAddress},
			{"api_port", cfg.Server.APIPort, def.Server.APIPort},
			{"metrics_port", cfg.Server.MetricsPort, def.Server.MetricsPort},
			{"read_timeout", cfg.Server.ReadTimeout, def.Server.ReadTimeout},
			{"write_timeout", cfg.Server.WriteTimeout, def.Server.WriteTimeout},
			{"cors_origins", cfg.Server.CORSOrigins, def.Server.CORSOrigins},
		}},
		{"storage", []dumpEntry{
			{"type", cfg.Storage.Type, def.Storage.Type},
		}},
		{"storage.redis", []dumpEntry{
			{"host", cfg.Storage.Redis.Host, def.Storage.Redis.Host},
			{"port", cfg.Storage.Redis.Port, def.Storage.Redis.Port},
			{"password", redactSecret(cfg.Storage.Redis.Password), redactSecret(def.Storage.Redis.Password)},
			{"db", cfg.Storage.Redis.DB, def.Storage.Redis.DB},
			{"pool_size", cfg.Storage.Redis.PoolSize, def.Storage.Redis.PoolSize},
			{"min_idle_conns", cfg.Storage.Redis.MinIdleConns, def.Storage.Redis.MinIdleConns},
			{"dial_timeout", cfg.Storage.Redis.DialTimeout, def.Storage.Redis.DialTimeout},
			{"read_timeout", cfg.Storage.Redis.ReadTimeout, def.Storage.Redis.ReadTimeout},
			{"write_timeout", cfg.Storage.Redis.WriteTimeout, def.Storage.Redis.WriteTimeout},
		}},
		{"storage.postgres", []dumpEntry{
			{"dsn", redactSecret(cfg.Storage.Postgres.DSN), redactSecret(def.Storage.Postgres.DSN)},
			{"max_conns", cfg.Storage.Postgres.MaxConns, def.Storage.Postgres.MaxConns},
			{"auto_migrate", cfg.Storage.Postgres.AutoMigrate, def.Storage.Postgres.AutoMigrate},
		}},
		{"logging", []dumpEntry{
			{"level", cfg.Logging.Level, def.Logging.Level},
			{"format", cfg.Logging.Format, def.Logging.Format},
		}},
		{"auth", []dumpEntry{
			{"jwt_secret", redactSecret(cfg.Auth.JWTSecret), redactSecret(def.Auth.JWTSecret)},
			{"issuer", cfg.Auth.Issuer, def.Auth.Issuer},
			{"pin_max_age", cfg.Auth.PINMaxAge, def.Auth.PINMaxAge},
		}},
		{"enforcement", []dumpEntry{
			{"heartbeat_interval", cfg.Enforcement.HeartbeatInterval, def.Enforcement.HeartbeatInterval},
			{"pause_grace", cfg.Enforcement.PauseGrace, def.Enforcement.PauseGrace},
			{"config_cache_ttl", cfg.Enforcement.ConfigCacheTTL, def.Enforcement.ConfigCacheTTL},
			{"config_cache_size", cfg.Enforcement.ConfigCacheSize, def.Enforcement.ConfigCacheSize},
			{"history_max_sessions", cfg.Enforcement.HistoryMaxSessions, def.Enforcement.HistoryMaxSessions},
			{"history_max_days", cfg.Enforcement.HistoryMaxDays, def.Enforcement.HistoryMaxDays},
		}},
		{"defaults", []dumpEntry{
			{"weekday_limit_minutes", cfg.Defaults.WeekdayLimitMinutes, def.Defaults.WeekdayLimitMinutes},
			{"weekend_limit_minutes", cfg.Defaults.WeekendLimitMinutes, def.Defaults.WeekendLimitMinutes},
			{"reset_hour", cfg.Defaults.ResetHour, def.Defaults.ResetHour},
			{"educational_exempt", cfg.Defaults.EducationalExempt, def.Defaults.EducationalExempt},
			{"time_zone", cfg.Defaults.TimeZone, def.Defaults.TimeZone},
		}},
		{"catalog", []dumpEntry{
			{"educational_titles", cfg.Catalog.EducationalTitles, def.Catalog.EducationalTitles},
			{"titles", cfg.Catalog.Titles, def.Catalog.Titles},
			{"strict", cfg.Catalog.Strict, def.Catalog.Strict},
			{"cache_size", cfg.Catalog.CacheSize, def.Catalog.CacheSize},
			{"cache_ttl", cfg.Catalog.CacheTTL, def.Catalog.CacheTTL},
		}},
		{"retention", []dumpEntry{
			{"enabled", cfg.Retention.Enabled, def.Retention.Enabled},
			{"days", cfg.Retention.Days, def.Retention.Days},
			{"run_at", cfg.Retention.RunAt, def.Retention.RunAt},
		}},
		{"notify", []dumpEntry{
			{"enabled", cfg.Notify.Enabled, def.Notify.Enabled},
			{"nats_url", cfg.Notify.NATSURL, def.Notify.NATSURL},
			{"subject_prefix", cfg.Notify.SubjectPrefix, def.Notify.SubjectPrefix},
		}},
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	for _, section := range configSections(cfg, defaultCfg) {
		_, _ = cyan.Printf("\n[%s]\n", section.header)
		for _, e := range section.entries {
			dumpField("  "+e.key, e.value, e.def, yellow, green)
		}
	}

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
