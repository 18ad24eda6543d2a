package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GUESTAUTH_"

// Load builds a Config from args (without the program name).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fset, set := newFlagSet()
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if set.configFile != "" {
		if err := parseFile(cfg, set.configFile); err != nil {
			return nil, err
		}
	}

	dotenv, err := readDotenv(set.envFile)
	if err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	set.apply(fset, cfg)
	return cfg, nil
}

func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// readDotenv reads path without touching the process environment. A missing
// default .env is not an error.
func readDotenv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return vals, nil
}

func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			dst.Duration = d
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("DATABASE_DSN", &cfg.DatabaseDSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREDIS_DB: %w", envPrefix, err))
		} else {
			cfg.RedisDB = n
		}
	}
	boolean("DEV", &cfg.Dev)
	boolean("PRODUCTION", &cfg.Production)
	boolean("TRUST_PROXY", &cfg.TrustProxy)
	if v, ok := lookup(envPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitList(v)
	}
	str("JWT_SECRET", &cfg.JWTSecret)
	str("CSRF_SECRET", &cfg.CSRFSecret)
	str("CODE_PEPPER", &cfg.CodePepper)
	duration("ACCESS_TTL", &cfg.AccessTTL)
	duration("REFRESH_TTL", &cfg.RefreshTTL)
	str("RATE_COUNTER", &cfg.RateCounter)
	boolean("AUDIT", &cfg.Audit)
	boolean("METRICS", &cfg.Metrics)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type flagValues struct {
	configFile string
	envFile    string

	httpAddr    string
	databaseDSN string
	redisAddr   string
	dev         bool
	production  bool
	origins     string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rateCounter string
	audit       bool
	logLevel    string
}

func newFlagSet() (*flag.FlagSet, *flagValues) {
	v := &flagValues{}
	fset := flag.NewFlagSet("guestauthd", flag.ContinueOnError)

	fset.StringVar(&v.configFile, "config", "", "JSON or YAML config file")
	fset.StringVar(&v.envFile, "env", "", ".env file (default ./.env when present)")
	fset.StringVar(&v.httpAddr, "addr", "", "HTTP listen address")
	fset.StringVar(&v.databaseDSN, "dsn", "", "PostgreSQL DSN")
	fset.StringVar(&v.redisAddr, "redis", "", "redis address")
	fset.BoolVar(&v.dev, "dev", false, "in-process redis and in-memory stores")
	fset.BoolVar(&v.production, "production", false, "mark cookies Secure")
	fset.StringVar(&v.origins, "origins", "", "comma-separated CORS origins")
	fset.DurationVar(&v.accessTTL, "access-ttl", 0, "access token lifetime")
	fset.DurationVar(&v.refreshTTL, "refresh-ttl", 0, "refresh token lifetime")
	fset.StringVar(&v.rateCounter, "rate-counter", "", "memory or redis")
	fset.BoolVar(&v.audit, "audit", false, "write audit events to stdout")
	fset.StringVar(&v.logLevel, "log-level", "", "debug, info, warn or error")
	return fset, v
}

// apply copies only the flags present on the command line.
func (v *flagValues) apply(fset *flag.FlagSet, cfg *Config) {
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.HTTPAddr = v.httpAddr
		case "dsn":
			cfg.DatabaseDSN = v.databaseDSN
		case "redis":
			cfg.RedisAddr = v.redisAddr
		case "dev":
			cfg.Dev = v.dev
		case "production":
			cfg.Production = v.production
		case "origins":
			cfg.AllowedOrigins = splitList(v.origins)
		case "access-ttl":
			cfg.AccessTTL = Duration{v.accessTTL}
		case "refresh-ttl":
			cfg.RefreshTTL = Duration{v.refreshTTL}
		case "rate-counter":
			cfg.RateCounter = v.rateCounter
		case "audit":
			cfg.Audit = v.audit
		case "log-level":
			cfg.LogLevel = v.logLevel
		}
	})
}
