package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Session    SessionConfig    `mapstructure:"session"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers []string    `mapstructure:"brokers"`
	Topics  KafkaTopics `mapstructure:"topics"`
	Groups  KafkaGroups `mapstructure:"groups"`
}

type KafkaTopics struct {
	EngagementEvents string `mapstructure:"engagement_events"`
	PostScoreEvents  string `mapstructure:"post_score_events"`
}

type KafkaGroups struct {
	EngagementStats  string `mapstructure:"engagement_stats"`
	HourlyAggregator string `mapstructure:"hourly_aggregator"`
}

type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration   `mapstructure:"token_ttl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Default int           `mapstructure:"default"`
	Window  time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RankingConfig carries the scoring constants shared by the interest,
// creator and post-metrics services.
type RankingConfig struct {
	HalfLifeDays      float64       `mapstructure:"half_life_days"`
	ShortHalfLife     time.Duration `mapstructure:"short_half_life"`
	LongHalfLife      time.Duration `mapstructure:"long_half_life"`
	EMAAlphaSession   float64       `mapstructure:"ema_alpha_session"`
	EMAAlphaDB        float64       `mapstructure:"ema_alpha_db"`
	SessionBlendAlpha float64       `mapstructure:"session_blend_alpha"`

	SkipWeight        float64       `mapstructure:"skip_weight"`
	HardSkipThreshold int           `mapstructure:"hard_skip_threshold"`
	WatchedThreshold  int           `mapstructure:"watched_threshold"`
	ReentryDelay      time.Duration `mapstructure:"reentry_delay"`

	PriorMinCount      float64       `mapstructure:"prior_min_count"`
	PriorCreatorWeight float64       `mapstructure:"prior_creator_weight"`
	PriorHalfLife      time.Duration `mapstructure:"prior_half_life"`

	RisingWindow           time.Duration `mapstructure:"rising_window"`
	RisingWindowCap        int           `mapstructure:"rising_window_cap"`
	RisingRateMultiplier   float64       `mapstructure:"rising_rate_multiplier"`
	MinInitialRisingWeight float64       `mapstructure:"min_initial_rising_weight"`

	TrendingWeight           float64 `mapstructure:"trending_weight"`
	TrendingExponent         float64 `mapstructure:"trending_exponent"`
	TrendingActivityNorm     float64 `mapstructure:"trending_activity_normalizer"`
	TrendingBurstFactor      float64 `mapstructure:"trending_burst_factor"`
	RisingDecayFactor        float64 `mapstructure:"rising_decay_factor"`
	MinRawForEvergreen       float64 `mapstructure:"min_raw_for_evergreen"`
	EvergreenVelocityRatio   float64 `mapstructure:"evergreen_velocity_ratio"`

	Weights EngagementWeights `mapstructure:"weights"`
	Pools   PoolCapsConfig    `mapstructure:"pools"`
}

type EngagementWeights struct {
	View       float64 `mapstructure:"view"`
	Like       float64 `mapstructure:"like"`
	Comment    float64 `mapstructure:"comment"`
	Share      float64 `mapstructure:"share"`
	Completion float64 `mapstructure:"completion"`
}

type PoolCapsConfig struct {
	TopCategories    int `mapstructure:"top_categories"`
	RisingCategories int `mapstructure:"rising_categories"`
	TopSubs          int `mapstructure:"top_subs"`
	RisingSubs       int `mapstructure:"rising_subs"`
	Specific         int `mapstructure:"specific"`
	TopCreators      int `mapstructure:"top_creators"`
	RisingCreators   int `mapstructure:"rising_creators"`
}

type FeedConfig struct {
	Size          int           `mapstructure:"size"`
	OrganicTarget int           `mapstructure:"organic_target"`
	RecentWindow  time.Duration `mapstructure:"recent_window"`

	// Probability of drawing the optional skipped/watched candidate.
	CoolOffPickProbability float64 `mapstructure:"cool_off_pick_probability"`

	// Fallback interest/creator score factor for posts outside the
	// user's pools (0.1 of the global average engagement).
	ColdInterestFactor float64 `mapstructure:"cold_interest_factor"`

	Take     FeedTakeConfig `mapstructure:"take"`
	Weights  FeedWeights    `mapstructure:"weights"`
	SlotCaps FeedSlotCaps   `mapstructure:"slot_caps"`
}

// FeedTakeConfig sets how many entries each pool contributes to the
// candidate set before fetching.
type FeedTakeConfig struct {
	TopCategories    int `mapstructure:"top_categories"`
	RisingCategories int `mapstructure:"rising_categories"`
	TopCreators      int `mapstructure:"top_creators"`
	RisingCreators   int `mapstructure:"rising_creators"`
	FollowedHead     int `mapstructure:"followed_head"`
	FollowedRandom   int `mapstructure:"followed_random"`

	CategoryTopPosts    int `mapstructure:"category_top_posts"`
	CategoryRandomPosts int `mapstructure:"category_random_posts"`
	TopSubs             int `mapstructure:"top_subs"`
	RandomSubs          int `mapstructure:"random_subs"`
	RisingSubs          int `mapstructure:"rising_subs"`
	RandomRisingSubs    int `mapstructure:"random_rising_subs"`

	CreatorTopPosts    int `mapstructure:"creator_top_posts"`
	CreatorRandomPosts int `mapstructure:"creator_random_posts"`

	RisingTop       int `mapstructure:"rising_top"`
	RisingRandom    int `mapstructure:"rising_random"`
	TrendingTop     int `mapstructure:"trending_top"`
	TrendingRandom  int `mapstructure:"trending_random"`
	RecentTop       int `mapstructure:"recent_top"`
	RecentRandom    int `mapstructure:"recent_random"`
	EvergreenTop    int `mapstructure:"evergreen_top"`
	EvergreenRandom int `mapstructure:"evergreen_random"`
}

type FeedWeights struct {
	Personal float64 `mapstructure:"personal"`
	Interest float64 `mapstructure:"interest"`
	Creator  float64 `mapstructure:"creator"`
	Raw      float64 `mapstructure:"raw"`
	Trend    float64 `mapstructure:"trend"`
	Bayesian float64 `mapstructure:"bayesian"`
}

type FeedSlotCaps struct {
	SkipReentry     int `mapstructure:"skip_reentry"`
	Watched         int `mapstructure:"watched"`
	CatTop          int `mapstructure:"cat_top"`
	CatRising       int `mapstructure:"cat_rising"`
	CatExtra        int `mapstructure:"cat_extra"`
	CreatorTop      int `mapstructure:"creator_top"`
	CreatorRising   int `mapstructure:"creator_rising"`
	CreatorExtra    int `mapstructure:"creator_extra"`
	CreatorFollowed int `mapstructure:"creator_followed"`
	Trending        int `mapstructure:"trending"`
	Rising          int `mapstructure:"rising"`
	Recent          int `mapstructure:"recent"`
	Evergreen       int `mapstructure:"evergreen"`
	Unknown         int `mapstructure:"unknown"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
}

type JobsConfig struct {
	RisingDecayAt          string        `mapstructure:"rising_decay_at"` // HH:MM local time
	EvergreenInterval      time.Duration `mapstructure:"evergreen_interval"`
	AggregatorFlushEvery   time.Duration `mapstructure:"aggregator_flush_every"`
	AggregatorMinStaleness time.Duration `mapstructure:"aggregator_min_staleness"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        string `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.warm.max_retries", 3)
	viper.SetDefault("redis.warm.pool_size", 5)
	viper.SetDefault("redis.warm.timeout", "10s")

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.engagement_events", "engagement-events")
	viper.SetDefault("kafka.topics.post_score_events", "post-score-events")
	viper.SetDefault("kafka.groups.engagement_stats", "engagement-stats")
	viper.SetDefault("kafka.groups.hourly_aggregator", "hourly-aggregator")

	// Auth defaults
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.rate_limit.default", 1000)
	viper.SetDefault("auth.rate_limit.window", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Ranking defaults
	viper.SetDefault("ranking.half_life_days", 0.5)
	viper.SetDefault("ranking.short_half_life", "1h")
	viper.SetDefault("ranking.long_half_life", "24h")
	viper.SetDefault("ranking.ema_alpha_session", 0.7)
	viper.SetDefault("ranking.ema_alpha_db", 0.25)
	viper.SetDefault("ranking.session_blend_alpha", 0.25)
	viper.SetDefault("ranking.skip_weight", -1.5)
	viper.SetDefault("ranking.hard_skip_threshold", 10)
	viper.SetDefault("ranking.watched_threshold", 2)
	viper.SetDefault("ranking.reentry_delay", "168h")
	viper.SetDefault("ranking.prior_min_count", 1.0)
	viper.SetDefault("ranking.prior_creator_weight", 0.4)
	viper.SetDefault("ranking.prior_half_life", "2h")
	viper.SetDefault("ranking.rising_window", "1h")
	viper.SetDefault("ranking.rising_window_cap", 200)
	viper.SetDefault("ranking.rising_rate_multiplier", 2.0)
	viper.SetDefault("ranking.min_initial_rising_weight", 10.0)
	viper.SetDefault("ranking.trending_weight", 1.0)
	viper.SetDefault("ranking.trending_exponent", 1.5)
	viper.SetDefault("ranking.trending_activity_normalizer", 50.0)
	viper.SetDefault("ranking.trending_burst_factor", 0.5)
	viper.SetDefault("ranking.rising_decay_factor", 0.9)
	viper.SetDefault("ranking.min_raw_for_evergreen", 1000.0)
	viper.SetDefault("ranking.evergreen_velocity_ratio", 0.01)
	viper.SetDefault("ranking.weights.view", 0.5)
	viper.SetDefault("ranking.weights.like", 1.0)
	viper.SetDefault("ranking.weights.comment", 2.5)
	viper.SetDefault("ranking.weights.share", 5.0)
	viper.SetDefault("ranking.weights.completion", 4.0)
	viper.SetDefault("ranking.pools.top_categories", 20)
	viper.SetDefault("ranking.pools.rising_categories", 12)
	viper.SetDefault("ranking.pools.top_subs", 6)
	viper.SetDefault("ranking.pools.rising_subs", 4)
	viper.SetDefault("ranking.pools.specific", 2)
	viper.SetDefault("ranking.pools.top_creators", 50)
	viper.SetDefault("ranking.pools.rising_creators", 25)

	// Feed defaults
	viper.SetDefault("feed.size", 20)
	viper.SetDefault("feed.organic_target", 15)
	viper.SetDefault("feed.recent_window", "1h")
	viper.SetDefault("feed.cool_off_pick_probability", 0.4)
	viper.SetDefault("feed.cold_interest_factor", 0.1)
	viper.SetDefault("feed.take.top_categories", 3)
	viper.SetDefault("feed.take.rising_categories", 2)
	viper.SetDefault("feed.take.top_creators", 4)
	viper.SetDefault("feed.take.rising_creators", 2)
	viper.SetDefault("feed.take.followed_head", 3)
	viper.SetDefault("feed.take.followed_random", 2)
	viper.SetDefault("feed.take.category_top_posts", 5)
	viper.SetDefault("feed.take.category_random_posts", 3)
	viper.SetDefault("feed.take.top_subs", 2)
	viper.SetDefault("feed.take.random_subs", 1)
	viper.SetDefault("feed.take.rising_subs", 1)
	viper.SetDefault("feed.take.random_rising_subs", 1)
	viper.SetDefault("feed.take.creator_top_posts", 20)
	viper.SetDefault("feed.take.creator_random_posts", 10)
	viper.SetDefault("feed.take.rising_top", 4)
	viper.SetDefault("feed.take.rising_random", 2)
	viper.SetDefault("feed.take.trending_top", 8)
	viper.SetDefault("feed.take.trending_random", 4)
	viper.SetDefault("feed.take.recent_top", 8)
	viper.SetDefault("feed.take.recent_random", 4)
	viper.SetDefault("feed.take.evergreen_top", 8)
	viper.SetDefault("feed.take.evergreen_random", 4)
	viper.SetDefault("feed.weights.personal", 0.5)
	viper.SetDefault("feed.weights.interest", 0.7)
	viper.SetDefault("feed.weights.creator", 0.3)
	viper.SetDefault("feed.weights.raw", 0.25)
	viper.SetDefault("feed.weights.trend", 0.25)
	viper.SetDefault("feed.weights.bayesian", 0.15)
	viper.SetDefault("feed.slot_caps.skip_reentry", 1)
	viper.SetDefault("feed.slot_caps.watched", 1)
	viper.SetDefault("feed.slot_caps.cat_top", 3)
	viper.SetDefault("feed.slot_caps.cat_rising", 3)
	viper.SetDefault("feed.slot_caps.cat_extra", 3)
	viper.SetDefault("feed.slot_caps.creator_top", 2)
	viper.SetDefault("feed.slot_caps.creator_rising", 2)
	viper.SetDefault("feed.slot_caps.creator_extra", 2)
	viper.SetDefault("feed.slot_caps.creator_followed", 2)
	viper.SetDefault("feed.slot_caps.trending", 2)
	viper.SetDefault("feed.slot_caps.rising", 1)
	viper.SetDefault("feed.slot_caps.recent", 1)
	viper.SetDefault("feed.slot_caps.evergreen", 1)
	viper.SetDefault("feed.slot_caps.unknown", 1)

	// Session defaults
	viper.SetDefault("session.ttl", "10m")
	viper.SetDefault("session.sweep_interval", "1m")
	viper.SetDefault("session.cookie_name", "sid")
	viper.SetDefault("session.cookie_secure", false)

	// Job defaults
	viper.SetDefault("jobs.rising_decay_at", "03:00")
	viper.SetDefault("jobs.evergreen_interval", "2h")
	viper.SetDefault("jobs.aggregator_flush_every", "1h")
	viper.SetDefault("jobs.aggregator_min_staleness", "1h")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.port", "9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}

// Caps returns the per-bucket slot caps keyed by feed bucket tag.
func (c FeedSlotCaps) Caps() map[string]int {
	return map[string]int{
		"SKIP_REENTRY":     c.SkipReentry,
		"WATCHED":          c.Watched,
		"CAT:TOP":          c.CatTop,
		"CAT:RISING":       c.CatRising,
		"CAT:EXTRA":        c.CatExtra,
		"CREATOR:TOP":      c.CreatorTop,
		"CREATOR:RISING":   c.CreatorRising,
		"CREATOR:EXTRA":    c.CreatorExtra,
		"CREATOR:FOLLOWED": c.CreatorFollowed,
		"TRENDING":         c.Trending,
		"RISING":           c.Rising,
		"RECENT":           c.Recent,
		"EVERGREEN":        c.Evergreen,
		"UNKNOWN":          c.Unknown,
	}
}
