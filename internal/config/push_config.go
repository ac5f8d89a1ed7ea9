package config

type Push struct {
	Platform string `env:"PUSH_PLATFORM" envDefault:"android" validate:"oneof=android ios web"`
	// Token is the device push token for headless clients. Empty disables push.
	Token    string `env:"PUSH_TOKEN"`
}

var _ PushConfig = Push{}

func (p Push) GetPushPlatform() string {
	return p.Platform
}

func (p Push) GetPushToken() string {
	return p.Token
}
