package config

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Reconcile ReconcileConfig `json:"reconcile,omitempty"`
}

type DiscordConfig struct {
	// Token may be left empty in the file and supplied via DISCORD_TOKEN.
	Token string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Report  LoggingReport `json:"report"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingReport mirrors errors at or above MinLevel into a Discord channel.
type LoggingReport struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// BusyTimeout and PollInterval are Go duration strings (sqlite only).
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// DeliveryConfig controls the notification pipeline.
// Zero values fall back to runtime defaults.
type DeliveryConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ReconcileConfig controls the maintenance loops. Intervals are Go duration
// strings; zero values fall back to the defaults (15m sanity, 1h branding,
// 1h census).
type ReconcileConfig struct {
	SanityInterval   string `json:"sanity_interval,omitempty"`
	BrandingInterval string `json:"branding_interval,omitempty"`
	CensusInterval   string `json:"census_interval,omitempty"`

	MinMembers   int      `json:"min_members,omitempty"`
	CensusFloor  int      `json:"census_floor,omitempty"`
	BannedGuilds []string `json:"banned_guilds,omitempty"`
}
