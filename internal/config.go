package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host string `env:"HOST,default=localhost"`
	Port int    `env:"PORT,default=8080"`

	LogLevel string `env:"LOG_LEVEL,default=info"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`

	// Broker selects the fan-out backend: "redis" across processes,
	// "memory" for a single node.
	Broker   string `env:"BROKER,default=redis"`
	RedisURL string `env:"REDIS_URL,default=redis://localhost:6379/0"`

	// BufferSize applies to the internal event and outbox channels.
	BufferSize int `env:"BUFFER_SIZE,default=256"`
	// ConnectionBufferSize bounds each session's outbound buffer. A full
	// buffer closes the session; the client reconnects and catches up.
	ConnectionBufferSize int `env:"CONNECTION_BUFFER_SIZE,default=64"`

	SinkTimeout     time.Duration `env:"SINK_TIMEOUT,default=2s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`

	// CatchupPageSize bounds each history read so long gaps never load
	// unbounded memory.
	CatchupPageSize int `env:"CATCHUP_PAGE_SIZE,default=200"`

	PublishBackoff    time.Duration `env:"PUBLISH_BACKOFF,default=100ms"`
	PublishBackoffMax time.Duration `env:"PUBLISH_BACKOFF_MAX,default=5s"`
	PublishRetries    int           `env:"PUBLISH_RETRIES,default=8"`

	ResubscribeBackoff    time.Duration `env:"RESUBSCRIBE_BACKOFF,default=250ms"`
	ResubscribeBackoffMax time.Duration `env:"RESUBSCRIBE_BACKOFF_MAX,default=10s"`

	// MentionPolicy decides what happens to mentions of non-members:
	// "drop" filters them out of the stored set, "reject" fails the send.
	MentionPolicy string `env:"MENTION_POLICY,default=drop"`
	// ExtractContentMentions additionally resolves @name markup inside
	// the content against current member names.
	ExtractContentMentions bool `env:"EXTRACT_CONTENT_MENTIONS,default=true"`

	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	AuthSecret        string        `env:"AUTH_SECRET,required=true"`

	HealthInterval time.Duration `env:"HEALTH_INTERVAL,default=5s"`
	DebugPort      *int          `env:"DEBUG_PORT"`
}

func (c Config) Validate() error {
	switch c.Broker {
	case "redis", "memory":
	default:
		return fmt.Errorf("BROKER must be redis or memory, got %q", c.Broker)
	}
	switch c.MentionPolicy {
	case "drop", "reject":
	default:
		return fmt.Errorf("MENTION_POLICY must be drop or reject, got %q", c.MentionPolicy)
	}
	return nil
}
