package config

import (
	"errors"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In               string
	Out              string
	Errors           string
	ChallengeAddress string
	PoolAddress      string
	LogLevel         string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("out", "./data/typed_events.jsonl")
		v.SetDefault("errors", "./data/decode_errors.jsonl")
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		In:               v.GetString("in"),
		Out:              v.GetString("out"),
		Errors:           v.GetString("errors"),
		ChallengeAddress: v.GetString("challenge-address"),
		PoolAddress:      v.GetString("pool-address"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

func (c DecodeConfig) Validate() error {
	var errs []error
	if c.In == "" {
		errs = append(errs, errors.New("in is required"))
	}
	if err := checkAddress("challenge-address", c.ChallengeAddress); err != nil {
		errs = append(errs, err)
	}
	if err := checkAddress("pool-address", c.PoolAddress); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
