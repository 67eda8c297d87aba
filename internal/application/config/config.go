package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	Port        string `env:"PORT" envDefault:"3000"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	Domain      string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	Room   RoomConfig
	Stun   StunConfig
	Coturn CoturnConfig

	TurnUDPServer webrtc.ICEServer
	TurnTCPServer webrtc.ICEServer
}

type RoomConfig struct {
	MaxUsers      int           `env:"ROOM_MAX_USERS" envDefault:"8"`
	IdleTimeout   time.Duration `env:"ROOM_IDLE_TIMEOUT" envDefault:"5m"`
	SweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"60s"`
}

type StunConfig struct {
	URLs []string `env:"STUN_URLS" envDefault:"stun:stun.l.google.com:19302" envSeparator:","`
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret - нужен для генерации временных кредов для фронта
	Secret string `env:"COTURN_SECRET"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Coturn.Host != "" {
		c.TurnUDPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.Coturn.Host)},
			Username:   c.Coturn.Username,
			Credential: c.Coturn.Password,
		}

		c.TurnTCPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.Coturn.Host)},
			Username:   c.Coturn.Username,
			Credential: c.Coturn.Password,
		}
	}

	return &c, nil
}

// ICEServers собирает список ICE серверов для pion из конфигурации.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.Stun.URLs}}

	if c.Coturn.Host != "" {
		servers = append(servers, c.TurnUDPServer, c.TurnTCPServer)
	}

	return servers
}
