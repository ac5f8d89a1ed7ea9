package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
	PushConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLogPretty() bool
}

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
}

type StorageConfig interface {
	GetDataFolder() string
	GetCredentialsPassphrase() string
	GetPrefsDBPath() string
}

type PushConfig interface {
	GetPushPlatform() string
	GetPushToken() string
}

type mainConfig struct {
	EnvVars
	API
	Storage
	Push
}

var _ Config = mainConfig{}

// New reads the process environment.
func New() (Config, error) {
	return parse(env.Options{})
}

// NewFromMap reads configuration from an explicit environment, ignoring the process one.
func NewFromMap(environment map[string]string) (Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg mainConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errors.Wrap(err, "[config.New] parse environment")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "[config.New] validate")
	}
	return cfg, nil
}
