package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"waveScope/internal/chain"
)

const envPrefix = "WAVE"

// Config holds configuration values for the run command, loaded from flags,
// env, or config file.
type Config struct {
	WSURL             string
	ChallengeAddress  string
	PoolAddress       string
	PGDSN             string
	Listen            string
	ReconnectDelay    time.Duration
	AnalyticsDays     int
	AnalyticsMaxAge   time.Duration
	AnalyticsDebounce time.Duration
	AnalyticsTimezone string
	LeaderboardSize   int
	DispatchWorkers   int
	NATSURL           string
	NATSSubjectPrefix string
	AuditLog          string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("listen", ":8080")
		v.SetDefault("reconnect-delay", 2*time.Second)
		v.SetDefault("analytics-days", 7)
		v.SetDefault("analytics-max-age", 10*time.Second)
		v.SetDefault("analytics-debounce", 1500*time.Millisecond)
		v.SetDefault("analytics-timezone", "UTC")
		v.SetDefault("leaderboard-size", 50)
		v.SetDefault("dispatch-workers", 4)
		v.SetDefault("nats-subject-prefix", "wave")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WSURL:             v.GetString("ws-url"),
		ChallengeAddress:  v.GetString("challenge-address"),
		PoolAddress:       v.GetString("pool-address"),
		PGDSN:             v.GetString("pg-dsn"),
		Listen:            v.GetString("listen"),
		ReconnectDelay:    v.GetDuration("reconnect-delay"),
		AnalyticsDays:     v.GetInt("analytics-days"),
		AnalyticsMaxAge:   v.GetDuration("analytics-max-age"),
		AnalyticsDebounce: v.GetDuration("analytics-debounce"),
		AnalyticsTimezone: v.GetString("analytics-timezone"),
		LeaderboardSize:   v.GetInt("leaderboard-size"),
		DispatchWorkers:   v.GetInt("dispatch-workers"),
		NATSURL:           v.GetString("nats-url"),
		NATSSubjectPrefix: v.GetString("nats-subject-prefix"),
		AuditLog:          v.GetString("audit-log"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports every setting that would stop the pipeline from starting.
func (c Config) Validate() error {
	var errs []error
	if _, err := chain.ParseEndpoint(c.WSURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkAddress("challenge-address", c.ChallengeAddress); err != nil {
		errs = append(errs, err)
	}
	if err := checkAddress("pool-address", c.PoolAddress); err != nil {
		errs = append(errs, err)
	}
	if c.PGDSN == "" {
		errs = append(errs, errors.New("pg-dsn is required"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect-delay must be positive"))
	}
	if c.AnalyticsMaxAge <= 0 {
		errs = append(errs, errors.New("analytics-max-age must be positive"))
	}
	if c.AnalyticsDebounce <= 0 {
		errs = append(errs, errors.New("analytics-debounce must be positive"))
	}
	if c.AnalyticsDays < 1 || c.AnalyticsDays > 90 {
		errs = append(errs, fmt.Errorf("analytics-days must be between 1 and 90, got %d", c.AnalyticsDays))
	}
	if _, err := time.LoadLocation(c.AnalyticsTimezone); err != nil {
		errs = append(errs, fmt.Errorf("analytics-timezone: %w", err))
	}
	if c.LeaderboardSize <= 0 {
		errs = append(errs, errors.New("leaderboard-size must be positive"))
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("dispatch-workers must be positive"))
	}
	return errors.Join(errs...)
}

// Contracts returns the challenge and pool contract addresses.
func (c Config) Contracts() (challenge, pool common.Address) {
	return common.HexToAddress(c.ChallengeAddress), common.HexToAddress(c.PoolAddress)
}

// Location returns the analytics time zone, UTC when unset.
func (c Config) Location() (*time.Location, error) {
	if c.AnalyticsTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.AnalyticsTimezone)
}

func checkAddress(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%s is not a hex address: %q", key, value)
	}
	return nil
}

// newViper builds a viper instance reading WAVE_* env vars, the bound flags
// and either cfgFile or ./config.*.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}
