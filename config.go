package digiscore

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the settings shared by all commands. It is populated once by
// LoadConfig at startup.
var Config Settings

// Settings is the full application configuration.
type Settings struct {
	Data    DataConfig    `mapstructure:"data"`
	Store   StoreConfig   `mapstructure:"store"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
}

// DataConfig locates the pipeline's input and output artifacts.
type DataConfig struct {
	RawPath       string `mapstructure:"raw_path"`
	ProcessedPath string `mapstructure:"processed_path"`
	ClusteredPath string `mapstructure:"clustered_path"`
	ModelPath     string `mapstructure:"model_path"`
	DBPath        string `mapstructure:"db_path"`
}

// StoreConfig selects where the web layer reads cities from: "csv" or "sqlite".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// ClusterConfig tunes k-means.
type ClusterConfig struct {
	K       int   `mapstructure:"k"`
	Seed    int64 `mapstructure:"seed"`
	MaxIter int   `mapstructure:"max_iter"`
}

// OpenAIConfig configures the recommendation model.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the dashboard.
type ServerConfig struct {
	Addr     string        `mapstructure:"addr"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from defaults, an optional config.yaml in
// dir, and DIGISCORE_* environment variables. OPENAI_API_KEY is honoured as
// well.
func LoadConfig(dir string) (Settings, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("DIGISCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", "DIGISCORE_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Settings{}, eris.Wrap(err, "config: bind env")
	}

	v.SetDefault("data.raw_path", "data/raw/Digital_availability_0.csv")
	v.SetDefault("data.processed_path", "data/processed/processed_data.csv")
	v.SetDefault("data.clustered_path", "data/processed/clustered_data.csv")
	v.SetDefault("data.model_path", "models/clustering_model.json")
	v.SetDefault("data.db_path", "data/processed/cities.db")
	v.SetDefault("store.driver", "csv")
	v.SetDefault("cluster.k", 3)
	v.SetDefault("cluster.seed", 42)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.max_tokens", 350)
	v.SetDefault("openai.timeout", 10*time.Second)
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.cache_ttl", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return Settings{}, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
