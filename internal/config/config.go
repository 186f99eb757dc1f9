package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

type App struct {
	Name       string
	Version    string
	LongName   string
	InstanceId string
}

type Config struct {
	App        App        `yaml:"-"`
	SIP        SIP        `yaml:"sip,omitempty"`
	Relay      Relay      `yaml:"relay,omitempty"`
	PubSub     PubSub     `yaml:"pubsub,omitempty"`
	HTTP       HTTP       `yaml:"http,omitempty"`
	Prometheus Prometheus `yaml:"prometheus,omitempty"`
	Log        LogConfig  `yaml:"log"`
}

func (cfg *Config) GetDefaults() *Config {
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets the default values
func (cfg *Config) SetDefaults() {
	if cfg.App.Name == "" {
		var err error
		if cfg.App.Name, err = os.Executable(); err != nil {
			log.Error(err)
			cfg.App.Name = "unknown"
		}
	}

	cfg.SIP = SIP{
		Address:   "0.0.0.0",
		Port:      5060,
		Transport: "udp",
		UserAgent: "Sippy SRS",
	}
	cfg.Relay.Adapter = "static"
	cfg.Relay.Topology = "two-phase"
	cfg.Relay.Adapters = make(map[string]interface{})
	cfg.Relay.Adapters["static"] = &StaticRelay{
		Address: "127.0.0.1",
		MinPort: 40000,
		MaxPort: 49152,
	}
	cfg.PubSub.Channels = Channels{
		Subscribe: "to-" + cfg.App.Name,
		Publish:   "from-" + cfg.App.Name,
	}
	cfg.PubSub.Adapter = "redis"
	cfg.PubSub.Adapters = make(map[string]interface{})
	cfg.PubSub.Adapters["redis"] = &Redis{
		Address:  ":6379",
		Network:  "tcp",
		Password: "",
	}
	cfg.HTTP = HTTP{
		Enable: false,
		Port:   8080,
	}
	cfg.Prometheus = Prometheus{
		Enable:        false,
		ListenAddress: "127.0.0.1:3200",
	}
	cfg.Log.Level = "info"
}

type SIP struct {
	Address   string `yaml:"address,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Transport string `yaml:"transport,omitempty"`
	UserAgent string `yaml:"userAgent,omitempty"`
}

// Relay selects the media-relay backend and the per-call negotiation
// topology ("single" or "two-phase").
type Relay struct {
	Adapter  string `yaml:"adapter,omitempty"`
	Topology string `yaml:"topology,omitempty"`
	Adapters map[string]interface{}
}

type StaticRelay struct {
	Address string `yaml:"address,omitempty"`
	MinPort int    `yaml:"minPort,omitempty"`
	MaxPort int    `yaml:"maxPort,omitempty"`
}

type Redis struct {
	Address  string `yaml:"address,omitempty"`
	Network  string `yaml:"network,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type PubSub struct {
	Channels Channels `yaml:"channels,omitempty"`
	Adapter  string   `yaml:"adapter,omitempty"`
	Adapters map[string]interface{}
}

type Channels struct {
	Subscribe string `yaml:"subscribe,omitempty"`
	Publish   string `yaml:"publish,omitempty"`
}

type HTTP struct {
	Enable bool `yaml:"enable,omitempty"`
	Port   int  `yaml:"port,omitempty"`
}

type Prometheus struct {
	Enable        bool   `yaml:"enable,omitempty"`
	ListenAddress string `yaml:"listenAddress,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}
