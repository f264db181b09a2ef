package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Log         struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"maxSizeMB"`
		MaxBackups int    `mapstructure:"maxBackups"`
		MaxAgeDays int    `mapstructure:"maxAgeDays"`
	} `mapstructure:"log"`
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL            string             `mapstructure:"url"`
		Inbound        ConsumerNatsConfig `mapstructure:"inbound"`
		GatewaySubject string             `mapstructure:"gatewaySubject"` // request/reply prefix of the WA gateway (e.g. wa.gateway)
		AISubject      string             `mapstructure:"aiSubject"`      // request/reply subject of the reply generator
		EventsSubject  string             `mapstructure:"eventsSubject"`  // base subject for outbound notifications
		RequestTimeout time.Duration      `mapstructure:"requestTimeout"`
	} `mapstructure:"nats"`
	Queue    QueueConfig `mapstructure:"queue"`
	Database struct {
		Driver              string        `mapstructure:"driver"` // postgres | memory
		PostgresDSN         string        `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool          `mapstructure:"postgresAutoMigrate"`
		MaxOpenConns        int           `mapstructure:"maxOpenConns"`
		MaxIdleConns        int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime     time.Duration `mapstructure:"connMaxLifetime"`
	} `mapstructure:"database"`
	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`
	Lock struct {
		Driver string        `mapstructure:"driver"` // local | redis
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"lock"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Campaign        CampaignConfig        `mapstructure:"campaign"`
	Followup        FollowupConfig        `mapstructure:"followup"`
	ContactFollowup ContactFollowupConfig `mapstructure:"contactFollowup"`
	AutoReply       AutoReplyConfig       `mapstructure:"autoReply"`
	Funnel          FunnelConfig          `mapstructure:"funnel"`
	Quota           QuotaConfig           `mapstructure:"quota"`
	Transport       TransportConfig       `mapstructure:"transport"`
	Schedule        ScheduleConfig        `mapstructure:"schedule"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before the event is dropped
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// QueueConfig holds configuration for the work queue driver
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"` // jetstream | memory
	Stream        string        `mapstructure:"stream"`
	SubjectPrefix string        `mapstructure:"subjectPrefix"`
	MaxAge        time.Duration `mapstructure:"maxAge"`
	AckWait       time.Duration `mapstructure:"ackWait"`
	FetchBatch    int           `mapstructure:"fetchBatch"`
	PoolSize      int           `mapstructure:"poolSize"`
	JobTimeout    time.Duration `mapstructure:"jobTimeout"`
	PollInterval  time.Duration `mapstructure:"pollInterval"` // memory driver tick
}

// CampaignConfig holds campaign dispatcher settings
type CampaignConfig struct {
	MinRecipients  int           `mapstructure:"minRecipients"`
	DefaultDelayMs int           `mapstructure:"defaultDelayMs"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	BackoffDelay   time.Duration `mapstructure:"backoffDelay"`
}

// FollowupConfig holds follow-up scheduler settings
type FollowupConfig struct {
	BatchSize    int           `mapstructure:"batchSize"`
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BackoffDelay time.Duration `mapstructure:"backoffDelay"`
	Concurrency  int           `mapstructure:"concurrency"` // materializer fan-out per campaign
}

// ContactFollowupConfig holds ad-hoc follow-up settings
type ContactFollowupConfig struct {
	BatchSize    int           `mapstructure:"batchSize"`
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BackoffDelay time.Duration `mapstructure:"backoffDelay"`
}

// AutoReplyConfig holds auto-reply pipeline settings
type AutoReplyConfig struct {
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	BackoffDelay      time.Duration `mapstructure:"backoffDelay"`
	DefaultTimezone   string        `mapstructure:"defaultTimezone"`
	TextCost          float64       `mapstructure:"textCost"`
	ImageCost         float64       `mapstructure:"imageCost"`
	MediaFetchLimit   int64         `mapstructure:"mediaFetchLimit"` // bytes
	MediaFetchTimeout time.Duration `mapstructure:"mediaFetchTimeout"`
	BlocklistFPRate   float64       `mapstructure:"blocklistFPRate"`
}

// FunnelConfig holds funnel state machine settings
type FunnelConfig struct {
	StaleAfter     time.Duration `mapstructure:"staleAfter"`
	SweepBatchSize int           `mapstructure:"sweepBatchSize"`
	Keywords       KeywordConfig `mapstructure:"keywords"`
}

// KeywordConfig holds the default keyword tables used for stage detection
type KeywordConfig struct {
	ClosedWon   []string `mapstructure:"closedWon"`
	ClosedLost  []string `mapstructure:"closedLost"`
	Negotiating []string `mapstructure:"negotiating"`
	Interested  []string `mapstructure:"interested"`
}

// QuotaConfig holds default per-tenant send limits used by the redis ledger
type QuotaConfig struct {
	DailyLimit   int64 `mapstructure:"dailyLimit"`
	MonthlyLimit int64 `mapstructure:"monthlyLimit"`
}

// TransportConfig holds outbound pacing settings
type TransportConfig struct {
	RatePerSecond float64 `mapstructure:"ratePerSecond"`
	Burst         int     `mapstructure:"burst"`
}

// ScheduleConfig holds cron expressions of the periodic tasks
type ScheduleConfig struct {
	FollowupMaterialize     string        `mapstructure:"followupMaterialize"`
	FollowupDispatch        string        `mapstructure:"followupDispatch"`
	ContactFollowupDispatch string        `mapstructure:"contactFollowupDispatch"`
	FunnelStaleSweep        string        `mapstructure:"funnelStaleSweep"`
	RunTimeout              time.Duration `mapstructure:"runTimeout"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// A missing .env is fine; real deployments inject the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.waspread")
	v.AddConfigPath("/etc/waspread")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		v.Set("redis.url", url)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 14)
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.gatewaySubject", "wa.gateway")
	v.SetDefault("nats.aiSubject", "ai.reply.generate")
	v.SetDefault("nats.eventsSubject", "events")
	v.SetDefault("nats.requestTimeout", 15*time.Second)
	v.SetDefault("nats.inbound.stream", "WA_EVENTS")
	v.SetDefault("nats.inbound.consumer", "waspread_inbound")
	v.SetDefault("nats.inbound.group", "waspread_inbound_group")
	v.SetDefault("nats.inbound.subjectList", []string{"v1.messages.upsert", "v1.messages.update"})
	v.SetDefault("nats.inbound.maxAge", 7)
	v.SetDefault("nats.inbound.maxDeliver", 5)
	v.SetDefault("nats.inbound.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.inbound.nakMaxDelay", time.Minute)

	v.SetDefault("queue.driver", "jetstream")
	v.SetDefault("queue.stream", "WA_JOBS")
	v.SetDefault("queue.subjectPrefix", "jobs")
	v.SetDefault("queue.maxAge", 7*24*time.Hour)
	v.SetDefault("queue.ackWait", 2*time.Minute)
	v.SetDefault("queue.fetchBatch", 20)
	v.SetDefault("queue.poolSize", 16)
	v.SetDefault("queue.jobTimeout", time.Minute)
	v.SetDefault("queue.pollInterval", time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", 30*time.Minute)

	v.SetDefault("campaign.minRecipients", 2)
	v.SetDefault("campaign.defaultDelayMs", 5000)
	v.SetDefault("campaign.maxAttempts", 3)
	v.SetDefault("campaign.backoffDelay", 30*time.Second)

	v.SetDefault("followup.batchSize", 100)
	v.SetDefault("followup.maxAttempts", 3)
	v.SetDefault("followup.backoffDelay", time.Minute)
	v.SetDefault("followup.concurrency", 4)

	v.SetDefault("contactFollowup.batchSize", 100)
	v.SetDefault("contactFollowup.maxAttempts", 3)
	v.SetDefault("contactFollowup.backoffDelay", time.Minute)

	v.SetDefault("autoReply.maxAttempts", 2)
	v.SetDefault("autoReply.backoffDelay", 30*time.Second)
	v.SetDefault("autoReply.defaultTimezone", "Asia/Jakarta")
	v.SetDefault("autoReply.textCost", 1.0)
	v.SetDefault("autoReply.imageCost", 3.0)
	v.SetDefault("autoReply.mediaFetchLimit", 5<<20)
	v.SetDefault("autoReply.mediaFetchTimeout", 20*time.Second)
	v.SetDefault("autoReply.blocklistFPRate", 0.01)

	v.SetDefault("funnel.staleAfter", 7*24*time.Hour)
	v.SetDefault("funnel.sweepBatchSize", 500)

	v.SetDefault("quota.dailyLimit", 1000)
	v.SetDefault("quota.monthlyLimit", 20000)

	v.SetDefault("transport.ratePerSecond", 1.0)
	v.SetDefault("transport.burst", 1)

	v.SetDefault("schedule.followupMaterialize", "0 * * * *")
	v.SetDefault("schedule.followupDispatch", "*/15 * * * *")
	v.SetDefault("schedule.contactFollowupDispatch", "* * * * *")
	v.SetDefault("schedule.funnelStaleSweep", "30 2 * * *")
	v.SetDefault("schedule.runTimeout", 10*time.Minute)
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		// If it's a struct, recursively bind its fields
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
