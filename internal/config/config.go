// Package config loads the bot's runtime configuration from the process
// environment once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is a flat, immutable record of every tunable named in spec.md §6.
// It is loaded once in main and passed by reference to every component
// that needs it; nothing here is mutated after Load returns.
type Config struct {
	// Credentials.
	ClientID       string
	ClientSecret   string
	APIKey         string
	APISecret      string
	AccessToken    string
	AccessSecret   string
	BearerToken    string
	TransformToken string

	BotHandle      string
	XBaseURL       string
	TransformURL   string
	StyleImageURL  string
	OutboxDir      string
	ImagePipeline  string // "ai" | "placeholder"

	PollSeconds        int
	AwakeMinSecs       int
	AwakeMaxSecs       int
	SleeperMinSecs     int
	SleeperMaxSecs     int
	PerAuthorHourly    int
	PerTargetHourly    int
	AIMaxConcurrency   int
	AIMaxAttempts      int
	AITimeout          time.Duration
	AIPollInterval     time.Duration
	RTLikeThreshold    int
	WhitelistHandles   map[string]struct{}
	HTTPTimeout        time.Duration
}

const replyBodyTemplate = "Welcome to $CRYBB @%s \U0001F37C\n\nNO CRYING IN THE CASINO."
const textOnlyFallback = "Sorry — I couldn't render that one. Try again in a bit! \U0001F49B"

// ReplyBody renders the fixed reply-body contract from §4.8 step 7.
func ReplyBody(target string) string {
	return fmt.Sprintf(replyBodyTemplate, target)
}

// TextOnlyFallbackBody is the fixed apology contract from §4.8's failure semantics.
func TextOnlyFallbackBody() string {
	return textOnlyFallback
}

// Load reads environment variables (after optionally loading a .env file)
// and validates the credentials required to run the bot.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ClientID:       os.Getenv("CLIENT_ID"),
		ClientSecret:   os.Getenv("CLIENT_SECRET"),
		APIKey:         os.Getenv("API_KEY"),
		APISecret:      os.Getenv("API_SECRET"),
		AccessToken:    os.Getenv("ACCESS_TOKEN"),
		AccessSecret:   os.Getenv("ACCESS_SECRET"),
		BearerToken:    os.Getenv("BEARER_TOKEN"),
		TransformToken: os.Getenv("TRANSFORM_API_TOKEN"),

		BotHandle:     strings.TrimPrefix(getEnv("BOT_HANDLE", "crybbmaker"), "@"),
		XBaseURL:      getEnv("X_BASE", "https://api.twitter.com/2"),
		TransformURL:  getEnv("TRANSFORM_URL", "https://api.replicate.com/v1/predictions"),
		StyleImageURL: os.Getenv("CRYBB_STYLE_URL"),
		OutboxDir:     getEnv("OUTBOX_DIR", "outbox"),
		ImagePipeline: strings.ToLower(getEnv("IMAGE_PIPELINE", "ai")),

		PollSeconds:      getEnvInt("POLL_SECONDS", 30),
		AwakeMinSecs:     getEnvInt("AWAKE_MIN_SECS", 180),
		AwakeMaxSecs:     getEnvInt("AWAKE_MAX_SECS", 300),
		SleeperMinSecs:   getEnvInt("SLEEPER_MIN_SECS", 480),
		SleeperMaxSecs:   getEnvInt("SLEEPER_MAX_SECS", 600),
		PerAuthorHourly:  getEnvInt("PER_AUTHOR_HOURLY_LIMIT", 12),
		PerTargetHourly:  getEnvInt("PER_TARGET_HOURLY_LIMIT", 5),
		AIMaxConcurrency: getEnvInt("AI_MAX_CONCURRENCY", 2),
		AIMaxAttempts:    getEnvInt("AI_MAX_ATTEMPTS", 2),
		AITimeout:        time.Duration(getEnvInt("AI_TIMEOUT", 120)) * time.Second,
		AIPollInterval:   time.Duration(getEnvFloatMillis("AI_POLL_INTERVAL", 2.0)) * time.Millisecond,
		RTLikeThreshold:  getEnvInt("RT_LIKE_THRESHOLD", 10),
		WhitelistHandles: parseWhitelist(os.Getenv("WHITELIST_HANDLES")),
		HTTPTimeout:      30 * time.Second,
	}

	if cfg.ImagePipeline != "ai" && cfg.ImagePipeline != "placeholder" {
		cfg.ImagePipeline = "ai"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"CLIENT_ID":     c.ClientID,
		"CLIENT_SECRET": c.ClientSecret,
		"API_KEY":       c.APIKey,
		"API_SECRET":    c.APISecret,
		"ACCESS_TOKEN":  c.AccessToken,
		"ACCESS_SECRET": c.AccessSecret,
		"BEARER_TOKEN":  c.BearerToken,
	}
	var missing []string
	for name, val := range required {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.ImagePipeline == "ai" {
		var aiMissing []string
		if c.TransformToken == "" {
			aiMissing = append(aiMissing, "TRANSFORM_API_TOKEN")
		}
		if c.StyleImageURL == "" {
			aiMissing = append(aiMissing, "CRYBB_STYLE_URL")
		}
		if len(aiMissing) > 0 {
			return fmt.Errorf("IMAGE_PIPELINE=ai requires: %s", strings.Join(aiMissing, ", "))
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloatMillis(key string, def float64) int {
	v := os.Getenv(key)
	if v == "" {
		return int(def * 1000)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return int(def * 1000)
	}
	return int(f * 1000)
}

func parseWhitelist(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, h := range strings.Split(raw, ",") {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(h), "@")))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
