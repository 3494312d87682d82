package apply

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ellavondegurechaff/accessreview/accessreview/storage"
)

// Config is the per-guild application configuration document. It is a
// JSON file keyed by guild id, loaded once at startup and validated up
// front so a malformed entry fails the boot instead of a button click.
type Config struct {
	Guilds map[string]GuildConfig
}

// GuildConfig groups a guild's application categories with its manual
// review settings.
type GuildConfig struct {
	Data   map[string]CategoryConfig `json:"data"`
	Review *ReviewConfig             `json:"revive_config,omitempty"`
}

// CategoryConfig describes one application category. The category id is
// the Discord channel-category id its private channels are created under.
type CategoryConfig struct {
	Name           string               `json:"name"`
	CategoryName   string               `json:"category_name,omitempty"`
	AdminChannelID string               `json:"admin_channle_id"`
	Roles          RoleConfig           `json:"role_config"`
	Choose         map[string]ExtraRole `json:"choose,omitempty"`
}

// RoleConfig carries the role ids and the auto-review threshold for a
// category. MustHoldRoleID of "" or "0" means no prerequisite.
type RoleConfig struct {
	RoleID         string `json:"role_id"`
	GiveRoleID     string `json:"give_role_id"`
	MustHoldRoleID string `json:"musthold_role_id,omitempty"`
	Threshold      int64  `json:"threshold"`
	StatsDB        string `json:"db_name,omitempty"`
	StatsColumn    string `json:"db_kv,omitempty"`
}

// ExtraRole is one entry of a category's optional extra-role menu.
type ExtraRole struct {
	Name   string `json:"name"`
	RoleID string `json:"role_id"`
}

// ReviewConfig holds the manual committee-vote settings for a guild.
// Nil rules mean auto-review grants directly instead of opening a vote.
type ReviewConfig struct {
	ReviewChannelID string     `json:"review_channel_id"`
	VoteRoles       *VoteRoles `json:"allow_vote_role,omitempty"`
}

// VoteRoles names the two voter classes and their quorum ratios.
type VoteRoles struct {
	Admin       string `json:"admin"`
	User        string `json:"user"`
	RatioAllow  Quorum `json:"ratio_allow"`
	RatioReject Quorum `json:"ratio_reject"`
}

// Quorum is a pair of vote-count thresholds. Zero disables a threshold.
type Quorum struct {
	Admin int `json:"admin"`
	User  int `json:"user"`
}

func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read apply config: %w", err)
	}

	var guilds map[string]GuildConfig
	if err := json.Unmarshal(raw, &guilds); err != nil {
		return nil, fmt.Errorf("failed to parse apply config: %w", err)
	}

	cfg := &Config{Guilds: guilds}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid apply config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for guildID, guild := range c.Guilds {
		if len(guild.Data) == 0 {
			return fmt.Errorf("guild %s has no categories", guildID)
		}
		for categoryID, category := range guild.Data {
			if category.Name == "" && category.CategoryName == "" {
				return fmt.Errorf("guild %s category %s has no name", guildID, categoryID)
			}
			if category.Roles.GiveRoleID == "" && category.Roles.RoleID == "" {
				return fmt.Errorf("guild %s category %s has no grantable role", guildID, categoryID)
			}
			if category.Roles.Threshold < 0 {
				return fmt.Errorf("guild %s category %s has negative threshold", guildID, categoryID)
			}
			for key, extra := range category.Choose {
				if extra.RoleID == "" {
					return fmt.Errorf("guild %s category %s extra role %s has no role id", guildID, categoryID, key)
				}
			}
		}
		if review := guild.Review; review != nil && review.VoteRoles != nil {
			if review.ReviewChannelID == "" {
				return fmt.Errorf("guild %s has vote roles but no review channel", guildID)
			}
			vr := review.VoteRoles
			if vr.Admin == "" && vr.User == "" {
				return fmt.Errorf("guild %s vote roles name no voter class", guildID)
			}
			if vr.RatioAllow.Admin <= 0 && vr.RatioAllow.User <= 0 {
				return fmt.Errorf("guild %s vote rules can never approve", guildID)
			}
		}
	}
	return nil
}

func (c *Config) Guild(guildID string) (GuildConfig, bool) {
	g, ok := c.Guilds[guildID]
	return g, ok
}

func (c *Config) Category(guildID, categoryID string) (CategoryConfig, bool) {
	g, ok := c.Guilds[guildID]
	if !ok {
		return CategoryConfig{}, false
	}
	cat, ok := g.Data[categoryID]
	return cat, ok
}

// CategoryByRole finds the category whose auto-review target is roleID.
func (c *Config) CategoryByRole(guildID, roleID string) (string, CategoryConfig, bool) {
	g, ok := c.Guilds[guildID]
	if !ok {
		return "", CategoryConfig{}, false
	}
	for id, cat := range g.Data {
		if cat.Roles.RoleID == roleID {
			return id, cat, true
		}
	}
	return "", CategoryConfig{}, false
}

// DisplayName prefers the long category name over the short one.
func (cc CategoryConfig) DisplayName() string {
	if cc.CategoryName != "" {
		return cc.CategoryName
	}
	return cc.Name
}

// MustHold reports the prerequisite role, if the category has one.
func (cc CategoryConfig) MustHold() (string, bool) {
	id := cc.Roles.MustHoldRoleID
	if id == "" || id == "0" {
		return "", false
	}
	return id, true
}

// VoteRules snapshots the guild's quorum configuration into the form
// embedded in a vote record. ok is false when the guild is not set up
// for committee votes.
func (g GuildConfig) VoteRules() (storage.VoteRules, bool) {
	if g.Review == nil || g.Review.VoteRoles == nil {
		return storage.VoteRules{}, false
	}
	vr := g.Review.VoteRoles
	return storage.VoteRules{
		AdminRoleID: vr.Admin,
		UserRoleID:  vr.User,
		AllowAdmin:  vr.RatioAllow.Admin,
		AllowUser:   vr.RatioAllow.User,
		RejectAdmin: vr.RatioReject.Admin,
		RejectUser:  vr.RatioReject.User,
	}, true
}
