package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/crystal-mush/voxelshare/pkg/boltstore"
	"github.com/crystal-mush/voxelshare/pkg/config"
	"github.com/spf13/cobra"
)

var (
	confPath  string
	envFile   string
	worldFlag string
	inMemory  bool
)

var rootCmd = &cobra.Command{
	Use:   "voxelshare",
	Short: "Local voxel world host with export, sharing and reset commands",
	Long: "voxelshare hosts one local world, reads chat lines from the operator and runs the\n" +
		"built-in slash commands (/export, /share, /close, /save, /reset-world -y).",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&confPath, "conf", "c", os.Getenv("VOXEL_CONF"), "Path to YAML config file (env: VOXEL_CONF)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with VOXEL_* overrides")
	rootCmd.PersistentFlags().StringVarP(&worldFlag, "world", "w", "", "World name, overrides config")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "Never persist the world, overrides config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConf resolves settings: defaults, YAML file, .env, environment, flags.
func loadConf(cmd *cobra.Command) (*config.Conf, error) {
	conf, err := config.Load(confPath)
	if err != nil {
		return nil, err
	}
	dotenv, err := config.ReadDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	conf.ApplyEnv(config.EnvLookup(dotenv))

	if cmd.Flags().Changed("world") {
		conf.WorldName = worldFlag
	}
	if cmd.Flags().Changed("in-memory") {
		conf.InMemory = inMemory
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// openStore opens the durable store named by conf, or returns nil for
// in-memory configurations.
func openStore(conf *config.Conf) (*boltstore.Store, error) {
	if conf.InMemory {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(conf.BoltPath), 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(conf.BoltPath), err)
	}
	store, err := boltstore.Open(conf.BoltPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Opened world store %s", conf.BoltPath)
	return store, nil
}
