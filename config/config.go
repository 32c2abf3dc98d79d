package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DOCCRAWLER"

type Config struct {
	Database struct {
		Driver string
		URL    string
	}
	Server struct {
		Port int
	}
	Log struct {
		Level string
		Dir   string
	}
	Crawler struct {
		UserAgent           string
		CrawlInterval       string
		MaxPages            int
		MaxConcurrentCrawls int
		RequestTimeout      time.Duration
	}
	Sitemap struct {
		// MaxRetries of -1 disables sitemap retries.
		MaxRetries  int
		RetryDelay  time.Duration
		BatchSize   int
		MaxDepth    int
		MaxSitemaps int
	}
	Extractor struct {
		MinContentLength int
		ExtractMetadata  bool
	}
}

// LoadConfig reads config.yaml from . or ./config. A missing file is fine:
// defaults and DOCCRAWLER_* environment variables (optionally from .env)
// still apply.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// LoadFile reads the given config file instead of searching for one.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "docs-crawler.db")

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "logs")

	v.SetDefault("crawler.useragent", "DocsCrawler/1.0 (+https://github.com/romangod6/docs-crawler)")
	v.SetDefault("crawler.crawlinterval", "24h")
	v.SetDefault("crawler.maxpages", 500)
	v.SetDefault("crawler.maxconcurrentcrawls", 5)
	v.SetDefault("crawler.requesttimeout", 30*time.Second)

	v.SetDefault("sitemap.maxretries", 2)
	v.SetDefault("sitemap.retrydelay", 2*time.Second)
	v.SetDefault("sitemap.batchsize", 3)
	v.SetDefault("sitemap.maxdepth", 5)
	v.SetDefault("sitemap.maxsitemaps", 500)

	v.SetDefault("extractor.mincontentlength", 50)
	v.SetDefault("extractor.extractmetadata", true)
}

func (c *Config) GetCrawlDuration() time.Duration {
	duration, err := time.ParseDuration(c.Crawler.CrawlInterval)
	if err != nil || duration <= 0 {
		return 24 * time.Hour
	}
	return duration
}
