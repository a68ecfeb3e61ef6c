package config

import (
	"errors"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StoreConfig holds configuration for commands that only need the database
// and, optionally, the NATS fan-out: migrate and account.
type StoreConfig struct {
	PGDSN             string
	NATSURL           string
	NATSSubjectPrefix string
	LogLevel          string
}

// LoadStore merges config file, environment variables, and flags into StoreConfig.
func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("nats-subject-prefix", "wave")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		PGDSN:             v.GetString("pg-dsn"),
		NATSURL:           v.GetString("nats-url"),
		NATSSubjectPrefix: v.GetString("nats-subject-prefix"),
		LogLevel:          v.GetString("log-level"),
	}
	if cfg.PGDSN == "" {
		return StoreConfig{}, errors.New("pg-dsn is required")
	}
	return cfg, nil
}
