package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "vpnforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path may be overridden with VPNFORGE_CONFIG; a missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("VPNFORGE_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "VPNFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "VPNFORGE_CORS_ORIGIN")
	setFloat(&cfg.Server.MutationRate, "VPNFORGE_MUTATION_RATE")
	setInt(&cfg.Server.MutationBurst, "VPNFORGE_MUTATION_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "VPNFORGE_IDEMPOTENCY_TTL")
	setDuration(&cfg.Server.ShutdownTimeout, "VPNFORGE_SHUTDOWN_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "VPNFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "VPNFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "VPNFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "VPNFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "VPNFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "VPNFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "VPNFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "VPNFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "VPNFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "VPNFORGE_BREAKER_TIMEOUT")

	// Docker
	setString(&cfg.Docker.Binary, "VPNFORGE_DOCKER_BINARY")
	setString(&cfg.Docker.Image, "VPNFORGE_DOCKER_IMAGE")
	setString(&cfg.Docker.ResourcePrefix, "VPNFORGE_DOCKER_PREFIX")
	setDuration(&cfg.Docker.CallTimeout, "VPNFORGE_DOCKER_CALL_TIMEOUT")
	setInt(&cfg.Docker.MaxConcurrent, "VPNFORGE_DOCKER_MAX_CONCURRENT")
	setInt(&cfg.Docker.StartAttempts, "VPNFORGE_DOCKER_START_ATTEMPTS")
	setDuration(&cfg.Docker.StartInterval, "VPNFORGE_DOCKER_START_INTERVAL")

	// OpenVPN
	setString(&cfg.OpenVPN.Cipher, "VPNFORGE_OVPN_CIPHER")
	setString(&cfg.OpenVPN.Auth, "VPNFORGE_OVPN_AUTH")
	setList(&cfg.OpenVPN.DNS, "VPNFORGE_OVPN_DNS")
	setString(&cfg.OpenVPN.StatusPath, "VPNFORGE_OVPN_STATUS_PATH")
	setString(&cfg.OpenVPN.NATInterface, "VPNFORGE_OVPN_NAT_INTERFACE")

	// Allocation
	setInt(&cfg.Allocation.PortFirst, "VPNFORGE_PORT_FIRST")
	setInt(&cfg.Allocation.PortMax, "VPNFORGE_PORT_MAX")
	setInt(&cfg.Allocation.ReserveAttempts, "VPNFORGE_RESERVE_ATTEMPTS")

	// Refresh
	setDuration(&cfg.Refresh.Interval, "VPNFORGE_REFRESH_INTERVAL")
	setInt(&cfg.Refresh.Parallelism, "VPNFORGE_REFRESH_PARALLELISM")
	setDuration(&cfg.Refresh.SessionRetention, "VPNFORGE_SESSION_RETENTION")

	// GeoIP / public IP
	setBool(&cfg.GeoIP.Enabled, "VPNFORGE_GEOIP_ENABLED")
	setString(&cfg.GeoIP.URL, "VPNFORGE_GEOIP_URL")
	setDuration(&cfg.GeoIP.Timeout, "VPNFORGE_GEOIP_TIMEOUT")
	setString(&cfg.PublicIP.Override, "VPNFORGE_PUBLIC_IP")
	setList(&cfg.PublicIP.Endpoints, "VPNFORGE_PUBLIC_IP_ENDPOINTS")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "VPNFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "VPNFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "VPNFORGE_CACHE_L2_TTL")

	// Telemetry / auth
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setString(&cfg.Auth.APIKeyHash, "VPNFORGE_API_KEY_HASH")
}

// validate checks that required fields are set and ranges are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Docker.Image == "" {
		return errors.New("docker.image is required")
	}
	if cfg.Docker.CallTimeout <= 0 {
		return errors.New("docker.call_timeout must be positive")
	}
	if cfg.Allocation.PortFirst < 1 || cfg.Allocation.PortMax > 65535 {
		return errors.New("allocation ports must be within 1..65535")
	}
	if cfg.Allocation.PortFirst > cfg.Allocation.PortMax {
		return errors.New("allocation.port_first must not exceed allocation.port_max")
	}
	if cfg.Refresh.Parallelism < 1 {
		return errors.New("refresh.parallelism must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated env value, dropping empty items.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
