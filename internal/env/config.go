package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/ams/protocol"
)

type Config struct {
	// RemoteHost is the AMS router to connect to, host[:port]
	RemoteHost string `env:"AMS_REMOTE_HOST"`

	// RemoteNetID is the NetID of the device behind RemoteHost
	RemoteNetID string `env:"AMS_REMOTE_NETID"`

	// LocalNetID is the NetID this client announces
	LocalNetID string `env:"AMS_LOCAL_NETID,default=127.0.0.1.1.1"`

	Timeout            time.Duration `env:"AMS_TIMEOUT,default=5s"`
	FrameSize          int           `env:"AMS_FRAME_SIZE,default=4096"`
	NotificationBuffer int           `env:"AMS_NOTIFICATION_BUFFER,default=4194304"`

	DebugHTTP bool `env:"AMS_DEBUG_HTTP"`
	Debug     bool `env:"AMS_DEBUG"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Local() (protocol.NetID, error) {
	return protocol.ParseNetID(c.LocalNetID)
}

func (c *Config) Remote() (protocol.NetID, error) {
	return protocol.ParseNetID(c.RemoteNetID)
}
