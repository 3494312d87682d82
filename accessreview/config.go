package accessreview

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	Bot    BotConfig    `toml:"bot"`
	Data   DataConfig   `toml:"data"`
	Access AccessConfig `toml:"access"`
}

type BotConfig struct {
	DevGuilds []snowflake.ID `toml:"dev_guilds"`
	Token     string         `toml:"token"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// DataConfig points at the on-disk state: the document directory and
// the guild application config.
type DataConfig struct {
	Dir         string `toml:"dir"`
	ApplyConfig string `toml:"apply_config"`
	StatsDir    string `toml:"stats_dir"`
}

// AccessConfig holds the admin allow-lists checked before any
// privileged operation.
type AccessConfig struct {
	AdminUserIDs []string `toml:"admin_user_ids"`
	AdminRoleIDs []string `toml:"admin_role_ids"`
}

func (c *Config) validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is not set")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is not set")
	}
	if c.Data.ApplyConfig == "" {
		return fmt.Errorf("data.apply_config is not set")
	}
	return nil
}
