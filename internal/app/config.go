package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

const defaultAddr = "0.0.0.0:8080"

// Store drivers.
const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (LAPTOP_ prefix), flags, YAML config files or a
// .env file.
type Config struct {
	Addr       string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Supabase   SupabaseConfig
	Cloudinary CloudinaryConfig
	Store      StoreConfig
	Upstream   UpstreamConfig
	Catalog    CatalogConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Graceful   GracefulConfig
}

// SupabaseConfig locates the identity service and the REST facade.
type SupabaseConfig struct {
	URL            string `usage:"Project URL (LAPTOP_SUPABASE_URL or SUPABASE_URL)"`
	ServiceRoleKey string `usage:"Service role key (LAPTOP_SUPABASE_SERVICE_ROLE_KEY or SUPABASE_SERVICE_ROLE_KEY)" flag:"supabase-service-role-key"`
	LaptopsTable   string `default:"laptops" usage:"Record table name" flag:"laptops-table"`
	AdminsTable    string `default:"admins" usage:"Admin membership table name" flag:"admins-table"`
}

// CloudinaryConfig holds asset host credentials. Asset cleanup is skipped
// unless all three credentials are set.
type CloudinaryConfig struct {
	CloudName   string `usage:"Cloud name (CLOUDINARY_CLOUD_NAME)" flag:"cloudinary-cloud-name"`
	APIKey      string `usage:"API key (CLOUDINARY_API_KEY)" flag:"cloudinary-api-key"`
	APISecret   string `usage:"API secret (CLOUDINARY_API_SECRET)" flag:"cloudinary-api-secret"`
	BaseURL     string `default:"https://api.cloudinary.com" usage:"API base URL" flag:"cloudinary-base-url"`
	Concurrency int    `default:"1" usage:"Parallel asset deletions per request" flag:"cloudinary-concurrency"`
}

// StoreConfig selects where laptop rows and admin memberships live.
type StoreConfig struct {
	Driver      string `default:"rest" usage:"Record store driver: rest or postgres" flag:"store-driver"`
	DatabaseURL string `usage:"PostgreSQL connection URL for the postgres driver (DATABASE_URL)" flag:"database-url"`
}

// UpstreamConfig bounds outbound calls.
type UpstreamConfig struct {
	Timeout time.Duration `default:"30s" usage:"Timeout of each outbound call" flag:"upstream-timeout"`
}

// CatalogConfig controls payload normalization.
type CatalogConfig struct {
	UnknownFields string `default:"drop" usage:"Unknown payload keys: drop, reject or passthrough" flag:"unknown-fields"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then environment variables, YAML config files and
// flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig([]string{".env"}, aconfig.Config{
		EnvPrefix: "LAPTOP",
		Files:     []string{"config.yaml", "/etc/laptop-admin/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(dotenv []string, acfg aconfig.Config) (*Config, error) {
	for _, f := range dotenv {
		// Existing environment variables win over the file.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}

	var cfg Config
	if err := aconfig.LoaderFor(&cfg, acfg).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variable names used by hosting
// platforms and the frontend build onto empty fields.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, names ...string) {
		for _, name := range names {
			if *dst != "" {
				return
			}
			*dst = os.Getenv(name)
		}
	}
	fallback(&c.Supabase.URL, "SUPABASE_URL")
	fallback(&c.Supabase.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	fallback(&c.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME", "VITE_CLOUDINARY_CLOUD_NAME")
	fallback(&c.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	fallback(&c.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")
	fallback(&c.Store.DatabaseURL, "DATABASE_URL")

	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate rejects settings the server cannot start with. Missing identity
// service credentials are not an error: requests then fail with a
// misconfiguration response.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverREST:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres driver: set LAPTOP_STORE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, ok := catalog.ParseUnknownFieldPolicy(c.Catalog.UnknownFields); !ok {
		return errors.Errorf("unknown fields policy %q", c.Catalog.UnknownFields)
	}
	if c.Cloudinary.Concurrency < 1 {
		return errors.Errorf("cloudinary concurrency must be positive, got %d", c.Cloudinary.Concurrency)
	}
	return nil
}

// SupabaseConfigured reports whether the identity service can be reached.
func (c *Config) SupabaseConfigured() bool {
	return c.Supabase.URL != "" && c.Supabase.ServiceRoleKey != ""
}

// UnknownFieldPolicy returns the validated normalization policy.
func (c *Config) UnknownFieldPolicy() catalog.UnknownFieldPolicy {
	p, _ := catalog.ParseUnknownFieldPolicy(c.Catalog.UnknownFields)
	return p
}
