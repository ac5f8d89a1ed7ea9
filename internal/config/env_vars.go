package config

type EnvVars struct {
	AppName   string `env:"APP_NAME" envDefault:"Membership Auto"`
	Env       string `env:"ENV" envDefault:"DEV" validate:"required"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

func (e EnvVars) GetLogPretty() bool {
	return e.LogPretty
}
