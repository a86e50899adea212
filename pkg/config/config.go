package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the downloader reads. It is built once in
// the cmd layer and passed into constructors; nothing reads the
// environment after startup.
type Config struct {
	BaseURL    string
	UploadsURL string

	// Optional bearer token, passed through as-is.
	AccessToken string

	DownloadDir string
	MaxWorkers  int

	// MangaDex allows ~5 req/s; the default delay of 250ms keeps us at 4.
	RateLimitDelay time.Duration
	MaxRetries     int
	RetryDelay     time.Duration

	RequestTimeout time.Duration
	UserAgent      string

	DefaultLanguage string
	AutoReconcile   bool
}

func Default() Config {
	return Config{
		BaseURL:         "https://api.mangadex.org",
		UploadsURL:      "https://uploads.mangadex.org",
		DownloadDir:     "./downloads",
		MaxWorkers:      10,
		RateLimitDelay:  250 * time.Millisecond,
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		RequestTimeout:  30 * time.Second,
		UserAgent:       "MangaDexDownloader/1.0",
		DefaultLanguage: "en",
		AutoReconcile:   true,
	}
}

// FromEnv builds a Config from the environment on top of the defaults.
func FromEnv() (Config, error) {
	c := Default()

	setString(&c.BaseURL, "MANGADEX_API_URL")
	setString(&c.UploadsURL, "MANGADEX_UPLOADS_URL")
	setString(&c.AccessToken, "ACCESS_TOKEN")
	setString(&c.DownloadDir, "DOWNLOAD_DIR")
	setString(&c.UserAgent, "USER_AGENT")
	setString(&c.DefaultLanguage, "DEFAULT_LANGUAGE")

	if err := setInt(&c.MaxWorkers, "MAX_CONCURRENT_DOWNLOADS"); err != nil {
		return c, err
	}
	if err := setInt(&c.MaxRetries, "MAX_RETRIES"); err != nil {
		return c, err
	}
	if err := setSeconds(&c.RateLimitDelay, "RATE_LIMIT_DELAY"); err != nil {
		return c, err
	}
	if err := setSeconds(&c.RetryDelay, "RETRY_DELAY"); err != nil {
		return c, err
	}
	if err := setSeconds(&c.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return c, err
	}
	if v := os.Getenv("AUTO_UPDATE_STRUCTURE"); v != "" {
		c.AutoReconcile = v == "true" || v == "1"
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be at least 1, got %d", c.MaxWorkers)
	}
	if c.RateLimitDelay < 0 {
		return fmt.Errorf("RATE_LIMIT_DELAY must be non-negative")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("REQUEST_TIMEOUT must be at least 1s, got %s", c.RequestTimeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// setSeconds parses a float number of seconds, the unit the original
// env files used (RATE_LIMIT_DELAY=0.25).
func setSeconds(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(f * float64(time.Second))
	return nil
}
