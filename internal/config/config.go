package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"pbembed/internal/retry"
)

type Options struct {
	BaseURL     string   `long:"base-url" env:"PB_BASE_URL" description:"PocketBase base URL (e.g. https://pb.example.com)"`
	Identity    string   `long:"identity" env:"PB_IDENTITY" description:"Login identity (email or username)"`
	Password    string   `long:"password" env:"PB_PASSWORD" description:"Login password"`
	Collection  string   `long:"collection" env:"PB_AUTH_COLLECTION" default:"users" description:"Auth collection used for password login"`
	TargetsFile string   `long:"targets-file" env:"PB_TARGETS_FILE" description:"File listing collection/record targets, one per line"`
	Subscribe   []string `long:"subscribe" env:"PB_SUBSCRIBE" env-delim:"," description:"Subscribe to collection/record (repeatable, record may be *)"`

	Capacity         int           `long:"capacity" env:"PB_CAPACITY" default:"5" description:"Maximum concurrent subscriptions"`
	Retries          int           `long:"retries" env:"PB_RETRIES" default:"5" description:"Retries for failed transport calls"`
	RetryDelay       time.Duration `long:"retry-delay" env:"PB_RETRY_DELAY" default:"1s" description:"First retry delay, doubled on every retry"`
	Timeout          time.Duration `long:"timeout" env:"PB_TIMEOUT" default:"10s" description:"Per-request timeout"`
	PollInterval     time.Duration `long:"poll-interval" env:"PB_POLL_INTERVAL" default:"1s" description:"Interval between subscription polls"`
	PollWait         time.Duration `long:"poll-wait" env:"PB_POLL_WAIT" default:"50ms" description:"How long each slot waits for a frame during a poll"`
	HandshakeTimeout time.Duration `long:"handshake-timeout" env:"PB_HANDSHAKE_TIMEOUT" default:"10s" description:"How long to wait for the realtime handshake"`
	FrameBuffer      int           `long:"frame-buffer" env:"PB_FRAME_BUFFER" default:"8" description:"Undelivered realtime frames kept per subscription"`

	InsecureTLS   bool `long:"insecure-tls" env:"PB_INSECURE_TLS" description:"Skip TLS certificate verification"`
	RealtimeHTTP1 bool `long:"realtime-http1" env:"PB_REALTIME_HTTP1" description:"Force HTTP/1.1 for realtime streams"`
	Debug         bool `long:"debug" env:"PB_DEBUG" description:"Enable verbose debug output"`
	LogToFile     bool `long:"log-to-file" env:"PB_LOG_TO_FILE" description:"Persist logs as JSON lines in the cache directory"`
	Monitor       bool `long:"monitor" env:"PB_MONITOR" description:"Show the terminal monitor instead of plain log output"`
}

type APIEndpoints struct {
	BaseURL     string
	HealthURL   string
	RealtimeURL string
}

const (
	apiPath      = "/api"
	healthPath   = "/health"
	realtimePath = "/realtime"
)

// ParseOptions reads .env, the environment, and the process arguments.
func ParseOptions() (Options, error) {
	return ParseArgs(os.Args[1:])
}

func ParseArgs(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return errors.New("base URL is required")
	}
	if strings.TrimSpace(opts.Identity) == "" {
		return errors.New("login identity is required")
	}
	if opts.Password == "" {
		return errors.New("login password is required")
	}
	if opts.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if opts.Retries < 0 || opts.Retries > retry.MaxRetries {
		return fmt.Errorf("retries must be between 0 and %d", retry.MaxRetries)
	}
	return nil
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	apiBaseURL, err := buildAPIBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	return APIEndpoints{
		BaseURL:     apiBaseURL,
		HealthURL:   apiBaseURL + healthPath,
		RealtimeURL: apiBaseURL + realtimePath,
	}, nil
}

func buildAPIBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("base URL scheme must be http or https")
	}

	// Any pasted endpoint collapses to the API root.
	parsed.Path = apiPath
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimRight(parsed.String(), "/"), nil
}
