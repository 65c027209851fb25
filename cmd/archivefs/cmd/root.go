package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/archivefs"
	"github.com/aweris/archivefs/driver"
	"github.com/aweris/archivefs/internal/iopool"
)

var rootCmd = &cobra.Command{
	Use:   "archivefs",
	Short: "Archive federation CLI",
	Long: `Access files in ZIP and TAR containers as if they were directories.

Paths are relative to the root directory and may traverse nested containers,
e.g. "dist/app.zip/lib/deps.tar/readme.txt".`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return initLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/archivefs/config.yaml)")
	flags.StringP("root", "C", ".", "root directory of all paths")
	flags.String("io-pool", string(iopool.Memory), "temporary buffer pool: memory or tempfile")
	flags.String("temp-dir", "", "directory of the tempfile pool (default: system temp dir)")
	flags.String("cache-strategy", "write-back", "entry cache strategy: write-back or write-through")
	flags.Int("sync-concurrency", archivefs.DefaultSyncConcurrency, "containers synced in parallel per nesting level")
	flags.Int("zstd-level", 0, "zstd level for tar.zst containers: 1 fastest, 2 default, 3 best")
	flags.String("log-level", "warn", "log level")

	for key, flag := range map[string]string{
		"root":             "root",
		"io_pool":          "io-pool",
		"temp_dir":         "temp-dir",
		"cache_strategy":   "cache-strategy",
		"sync_concurrency": "sync-concurrency",
		"zstd_level":       "zstd-level",
		"log_level":        "log-level",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ARCHIVEFS")
	viper.AutomaticEnv()

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "archivefs")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "archivefs")
	}
	return ".archivefs"
}

func initLogging() error {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	return nil
}

// options builds the workspace options from the configuration.
func options() ([]archivefs.Option, error) {
	pool, err := iopool.New(iopool.Kind(viper.GetString("io_pool")), viper.GetString("temp_dir"))
	if err != nil {
		return nil, err
	}
	strategy, err := archivefs.ParseCacheStrategy(viper.GetString("cache_strategy"))
	if err != nil {
		return nil, err
	}

	formats := make([]driver.Format, 0, len(driver.Formats))
	for _, f := range driver.Formats {
		formats = append(formats, f.WithZstdLevel(viper.GetInt("zstd_level")))
	}

	return []archivefs.Option{
		archivefs.WithIOPool(pool),
		archivefs.WithCacheStrategy(strategy),
		archivefs.WithSyncConcurrency(viper.GetInt("sync_concurrency")),
		archivefs.WithFormats(formats...),
	}, nil
}

// withWorkspace runs fn on a workspace over the root directory and unmounts
// all containers afterwards.
func withWorkspace(cmd *cobra.Command, fn func(ws *archivefs.Workspace) error) (err error) {
	opts, err := options()
	if err != nil {
		return err
	}
	ws, err := archivefs.Open(viper.GetString("root"), opts...)
	if err != nil {
		return err
	}
	ws = ws.WithContext(cmd.Context())
	defer func() {
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ws)
}
