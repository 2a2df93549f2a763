package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/clustrctrl/clustrctrl/internal/log"
	"github.com/clustrctrl/clustrctrl/internal/model"
)

var (
	userConfigPath string // /default/config/path/clustrctrl on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	session        = uuid.NewString()
	closeLog       = func() error { return nil }

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagTick           string // value of --tick flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "clustrctrl")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is clustrctrl.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagTick, "tick", "", "supervisor tick, eg 250ms")

	// environment and flags override the config file
	viper.SetEnvPrefix("clustrctrl")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("tick", rootCmd.PersistentFlags().Lookup("tick"))

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initClustrctrl
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return closeLog()
	}

	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("clustrctrl failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "clustrctrl",
	Short:        "Supervisor of simulated background jobs",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a clustrctrl",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("clustrctrl: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("clustrctrl: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

// processAttrs is the log group every command puts in its context.
func processAttrs(cmd string) slog.Attr {
	return slog.Group("clustrctrl",
		slog.String("cmd", cmd),
		slog.Int("pid", os.Getpid()),
		slog.String("session", session),
	)
}

func initClustrctrl(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("CLUSTRCTRLCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "clustrctrl.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "clustrctrl.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			return err
		}
	}

	if err := applyOverrides(&config); err != nil {
		return err
	}

	// the dashboard owns the terminal
	dest := config.Service.Log
	if cmd.Name() == dashboardCmd.Name() && isTerminalDest(dest) {
		dest = log.DestDiscard
	}
	w, closer, err := log.Open(dest)
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, config.Service.Verbose))

	slog.Debug("clustrctrl run", "config_path", configPath)
	slog.Debug("clustrctrl run", "config", config)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// applyOverrides lets --verbose, --tick and CLUSTRCTRL_VERBOSE,
// CLUSTRCTRL_TICK take precedence over the config file.
func applyOverrides(cfg *model.Config) error {
	if viper.IsSet("verbose") {
		cfg.Service.Verbose = viper.GetBool("verbose")
	}
	if viper.IsSet("tick") && viper.GetString("tick") != "" {
		var tick model.Duration
		if err := tick.UnmarshalText([]byte(viper.GetString("tick"))); err != nil {
			return fmt.Errorf("parsing tick: %w", err)
		}
		if tick.AsDuration() <= 0 {
			return errors.New("tick must be positive")
		}
		cfg.Supervisor.Tick = tick
	}
	return nil
}

func isTerminalDest(dest string) bool {
	return dest == "" || dest == log.DestStderr || dest == log.DestStdout
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout
