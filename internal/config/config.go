package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Upstream source selection: "gtfsrt" or "nats".
	Source string

	GTFSRTVehiclePositionsURL string
	GTFSRTTripUpdatesURL      string

	NATSURL     string
	NATSSubject string
	NATSMaxAge  time.Duration

	// Schedule store (external importer). Empty disables arrivals and
	// percent-traveled enrichment.
	DatabaseURL string
	City        string

	PollInterval time.Duration
	PollTimeout  time.Duration

	HTTPAddr        string
	MetricsAddr     string
	SubscriberQueue int
	AllowedOrigins  []string
	Location        *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Source = strings.ToLower(getenvDefault("SOURCE", "gtfsrt"))
	switch cfg.Source {
	case "gtfsrt":
		cfg.GTFSRTVehiclePositionsURL = os.Getenv("GTFSRT_VEHICLE_POSITIONS_URL")
		if cfg.GTFSRTVehiclePositionsURL == "" {
			return nil, fmt.Errorf("GTFSRT_VEHICLE_POSITIONS_URL must be set when SOURCE=gtfsrt")
		}
		cfg.GTFSRTTripUpdatesURL = os.Getenv("GTFSRT_TRIP_UPDATES_URL")
	case "nats":
		cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
		cfg.NATSSubject = getenvDefault("NATS_SUBJECT", "*.*")
	default:
		return nil, fmt.Errorf("invalid SOURCE: %q (want gtfsrt or nats)", cfg.Source)
	}

	// Position retention for the NATS source
	if v := os.Getenv("NATS_MAX_AGE_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid NATS_MAX_AGE_SEC: %q", v)
		}
		cfg.NATSMaxAge = time.Duration(sec) * time.Second
	} else {
		cfg.NATSMaxAge = 2 * time.Minute
	}

	// Database URL (cluster DSN): prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		name := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, name, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, name, sslmode)
		}
	}
	cfg.DatabaseURL = dsn

	// City name for dynamic resolution of the importer's latest database
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))
	if cfg.City != "" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("CITY requires DATABASE_URL (or PG* vars) pointing at the cluster")
	}

	// Poll interval
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SEC: %q", v)
		}
		cfg.PollInterval = time.Duration(sec) * time.Second
	} else {
		cfg.PollInterval = 15 * time.Second
	}

	// Per-poll fetch timeout; capped at the interval by the poller
	if v := os.Getenv("POLL_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid POLL_TIMEOUT_SEC: %q", v)
		}
		cfg.PollTimeout = time.Duration(sec) * time.Second
	} else {
		cfg.PollTimeout = 10 * time.Second
	}

	// Per-subscriber batch queue capacity
	if v := os.Getenv("SUBSCRIBER_QUEUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid SUBSCRIBER_QUEUE: %q", v)
		}
		cfg.SubscriberQueue = n
	} else {
		cfg.SubscriberQueue = 16
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{"*"}
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
