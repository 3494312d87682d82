package bridge

import (
	"errors"
	"fmt"
	"os"
)

// Config is read from the environment; the registry address and
// credentials are deployment data, not bot configuration.
type Config struct {
	ServerAddress string
	Token         string
	ClientName    string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: envOr("GRPC_SERVER_ADDRESS", "localhost:50051"),
		Token:         os.Getenv("GRPC_TOKEN"),
		ClientName:    envOr("GRPC_CLIENT_NAME", "default-client"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("GRPC_SERVER_ADDRESS is not set")
	}
	if c.Token == "" {
		return errors.New("GRPC_TOKEN is not set")
	}
	if c.ClientName == "" {
		return errors.New("GRPC_CLIENT_NAME is not set")
	}
	return nil
}

// ClientAddress is the address the registry advertises for this client.
func (c *Config) ClientAddress() string {
	return fmt.Sprintf("http://%s:50051", c.ClientName)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
