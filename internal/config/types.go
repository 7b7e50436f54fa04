package config

type Config struct {
	DiscordToken          string   `env:"DISCORD_TOKEN,required"`
	Owners                []string `env:"OWNERS" envSeparator:" "`
	GuildIDs              []string `env:"GUILDIDS" envSeparator:" "`
	RegisterCommandsOnBot bool     `env:"REGISTER_COMMANDS_ON_BOT" envDefault:"false"`
	DataDir               string   `env:"DATA_DIR" envDefault:"./data"`
	SpotifyClientID       string   `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret   string   `env:"SPOTIFY_CLIENT_SECRET"`
	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
	LogOutput             string   `env:"LOG_OUTPUT" envDefault:"stdout"`
	ActivityInterval      int      `env:"ACTIVITY_INTERVAL" envDefault:"10"` // seconds
}

// SpotifyEnabled reports whether spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

// IsOwner reports whether the given user id is in the OWNERS list.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.Owners {
		if id == userID {
			return true
		}
	}
	return false
}
