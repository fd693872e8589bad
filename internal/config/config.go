package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SourceSim      = "sim"
	SourceNMEAFile = "nmea-file"
	SourceSerial   = "serial"
)

type Config struct {
	OwnerID     string
	Location    *time.Location
	HTTPAddr    string
	MetricsAddr string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	NATSURL        string
	MQTTBroker     string
	MQTTClientID   string
	BusTopicPrefix string
	LogBusTopics   bool
	LogFixes       bool

	PollInterval    time.Duration
	ElapsedTick     time.Duration
	FixTimeout      time.Duration
	MaxAccuracy     float64
	MinInterval     time.Duration
	MinDisplacement float64
	MinTrackPoints  int

	Source       string
	NMEAFile     string
	SerialPort   string
	SerialBaud   uint
	SimRouteFile string
	SimSpeedMps  float64
	SimAccuracy  float64
	SimJitter    float64
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.OwnerID = strings.TrimSpace(os.Getenv("OWNER_ID"))
	if cfg.OwnerID == "" {
		return nil, errors.New("OWNER_ID must be set")
	}

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

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.StoreDriver = strings.ToLower(getenvDefault("STORE_DRIVER", "postgres"))
	switch cfg.StoreDriver {
	case "postgres":
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	case "sqlite":
		cfg.SQLitePath = getenvDefault("SQLITE_PATH", "patrols.db")
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER: %q", cfg.StoreDriver)
	}

	// Empty NATS_URL / MQTT_BROKER disables that transport.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.MQTTBroker = os.Getenv("MQTT_BROKER")
	cfg.MQTTClientID = getenvDefault("MQTT_CLIENT_ID", "patrol-recorder-"+cfg.OwnerID)
	cfg.BusTopicPrefix = getenvDefault("BUS_TOPIC_PREFIX", "patrol")
	cfg.LogBusTopics = parseBool(os.Getenv("LOG_BUS_TOPICS"))
	cfg.LogFixes = parseBool(os.Getenv("LOG_FIXES"))

	var err error
	if cfg.PollInterval, err = millis("POLL_INTERVAL_MS", 2000, false); err != nil {
		return nil, err
	}
	if cfg.ElapsedTick, err = millis("ELAPSED_TICK_MS", 1000, false); err != nil {
		return nil, err
	}
	if cfg.FixTimeout, err = millis("FIX_TIMEOUT_MS", 10000, false); err != nil {
		return nil, err
	}
	if cfg.MinInterval, err = millis("MIN_INTERVAL_MS", 5000, true); err != nil {
		return nil, err
	}
	if cfg.MaxAccuracy, err = positiveFloat("MAX_ACCURACY_M", 100, false); err != nil {
		return nil, err
	}
	if cfg.MinDisplacement, err = positiveFloat("MIN_DISPLACEMENT_M", 2, true); err != nil {
		return nil, err
	}

	if v := os.Getenv("MIN_TRACK_POINTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MIN_TRACK_POINTS: %q", v)
		}
		cfg.MinTrackPoints = n
	} else {
		cfg.MinTrackPoints = 3
	}

	cfg.Source = strings.ToLower(getenvDefault("SOURCE", SourceSim))
	switch cfg.Source {
	case SourceSim:
		cfg.SimRouteFile = os.Getenv("SIM_ROUTE_FILE")
		if cfg.SimSpeedMps, err = positiveFloat("SIM_SPEED_MPS", 1.4, false); err != nil {
			return nil, err
		}
		if cfg.SimAccuracy, err = positiveFloat("SIM_ACCURACY_M", 10, true); err != nil {
			return nil, err
		}
		if cfg.SimJitter, err = positiveFloat("SIM_JITTER_M", 0, true); err != nil {
			return nil, err
		}
	case SourceNMEAFile:
		cfg.NMEAFile = os.Getenv("NMEA_FILE")
		if cfg.NMEAFile == "" {
			return nil, errors.New("NMEA_FILE must be set when SOURCE=nmea-file")
		}
	case SourceSerial:
		cfg.SerialPort = getenvDefault("GPS_SERIAL_PORT", "/dev/serial0")
		if v := os.Getenv("GPS_BAUD_RATE"); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("invalid GPS_BAUD_RATE: %q", v)
			}
			cfg.SerialBaud = uint(n)
		} else {
			cfg.SerialBaud = 9600
		}
	default:
		return nil, fmt.Errorf("invalid SOURCE: %q", cfg.Source)
	}

	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds a URL from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (or use STORE_DRIVER=sqlite)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func millis(key string, def int, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Millisecond, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 || (ms == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func positiveFloat(key string, def float64, allowZero bool) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || (f == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
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
