package config

import "time"

type API struct {
	BaseURL string        `env:"API_BASE_URL" envDefault:"https://api.membershipauto.com" validate:"required,url"`
	Timeout time.Duration `env:"API_TIMEOUT" envDefault:"30s" validate:"gt=0"`
}

var _ APIConfig = API{}

func (a API) GetAPIBaseURL() string {
	return a.BaseURL
}

func (a API) GetAPITimeout() time.Duration {
	return a.Timeout
}
