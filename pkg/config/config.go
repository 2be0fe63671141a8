// Package config loads voxelshare settings from YAML, a .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Conf holds the settings for one voxelshare process.
type Conf struct {
	// --- World ---
	WorldName   string `yaml:"world_name"`
	WorldFolder string `yaml:"world_folder"` // storage root inside the world tree (default "/world")
	InMemory    bool   `yaml:"in_memory"`    // never persist the world
	SeedDir     string `yaml:"seed_dir"`     // directory copied in when the store is empty

	// --- Storage ---
	BoltPath     string `yaml:"bolt_path"`
	DownloadsDir string `yaml:"downloads_dir"`

	// --- Sharing ---
	ShareAddr       string `yaml:"share_addr"`
	SharePublicHost string `yaml:"share_public_host"`
	JWTSecret       string `yaml:"jwt_secret"` // random per process if empty
	JWTExpiry       int    `yaml:"jwt_expiry"` // join link lifetime in seconds

	// --- Scrollback ---
	ScrollbackDB        string `yaml:"scrollback_db"`        // empty disables the transcript
	ScrollbackRetention int    `yaml:"scrollback_retention"` // seconds, 0 keeps everything

	// --- Metrics ---
	MetricsAddr string `yaml:"metrics_addr"` // empty disables /metrics
}

// Default returns a Conf with all defaults set.
func Default() *Conf {
	return &Conf{
		WorldName:           "world",
		WorldFolder:         "/world",
		BoltPath:            "data/world.bolt",
		DownloadsDir:        "downloads",
		ShareAddr:           "127.0.0.1:0",
		JWTExpiry:           86400,
		ScrollbackDB:        "data/scrollback.db",
		ScrollbackRetention: 7 * 86400,
	}
}

// Load reads a YAML config over the defaults. Relative paths in the file
// are resolved against the file's directory. An empty path returns the
// defaults.
func Load(path string) (*Conf, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for _, p := range []*string{&c.SeedDir, &c.BoltPath, &c.DownloadsDir, &c.ScrollbackDB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	return c, nil
}

// ReadDotEnv parses a .env file. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vals, nil
}

// EnvLookup looks keys up in the process environment first, then in dotenv.
func EnvLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// ApplyEnv overrides settings from VOXEL_* variables. Malformed numbers and
// booleans are logged and ignored.
func (c *Conf) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("WARNING: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("WARNING: ignoring %s=%q: %v", key, v, err)
			return
		}
		*dst = n
	}

	str("VOXEL_WORLD_NAME", &c.WorldName)
	str("VOXEL_WORLD_FOLDER", &c.WorldFolder)
	boolean("VOXEL_IN_MEMORY", &c.InMemory)
	str("VOXEL_SEED_DIR", &c.SeedDir)
	str("VOXEL_BOLT_PATH", &c.BoltPath)
	str("VOXEL_DOWNLOADS_DIR", &c.DownloadsDir)
	str("VOXEL_SHARE_ADDR", &c.ShareAddr)
	str("VOXEL_SHARE_PUBLIC_HOST", &c.SharePublicHost)
	str("VOXEL_JWT_SECRET", &c.JWTSecret)
	integer("VOXEL_JWT_EXPIRY", &c.JWTExpiry)
	str("VOXEL_SCROLLBACK_DB", &c.ScrollbackDB)
	integer("VOXEL_SCROLLBACK_RETENTION", &c.ScrollbackRetention)
	str("VOXEL_METRICS_ADDR", &c.MetricsAddr)
}

// Validate checks the settings for values the process cannot run with.
func (c *Conf) Validate() error {
	if c.WorldFolder == "" {
		return fmt.Errorf("config: world_folder is empty")
	}
	if !c.InMemory && c.BoltPath == "" {
		return fmt.Errorf("config: bolt_path is required unless in_memory is set")
	}
	if c.JWTExpiry < 0 {
		return fmt.Errorf("config: jwt_expiry must not be negative")
	}
	if c.ScrollbackRetention < 0 {
		return fmt.Errorf("config: scrollback_retention must not be negative")
	}
	return nil
}

// TokenExpiry returns JWTExpiry as a duration.
func (c *Conf) TokenExpiry() time.Duration {
	return time.Duration(c.JWTExpiry) * time.Second
}

// Retention returns ScrollbackRetention as a duration.
func (c *Conf) Retention() time.Duration {
	return time.Duration(c.ScrollbackRetention) * time.Second
}
