package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mapbridge",
	Short: "Engine-independent map state, layers and tools",
	Long: `mapbridge keeps one canonical map state in front of interchangeable map engines.

It validates declarative map documents, shows the native layer specs each
engine would receive, drives headless engines from the command line and
serves a live map state over HTTP.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "map document (default is ./mapbridge.yaml)")
	rootCmd.PersistentFlags().String("prefs", "", "preferences database (sqlite); empty disables persistence")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	if err := viper.BindPFlag("prefs", rootCmd.PersistentFlags().Lookup("prefs")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mapbridge")
	}

	viper.SetEnvPrefix("MAPBRIDGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// documentPath returns the map document named by args, --config or the
// file viper found.
func documentPath(args []string) (string, error) {
	switch {
	case len(args) > 0:
		return args[0], nil
	case cfgFile != "":
		return cfgFile, nil
	case viper.ConfigFileUsed() != "":
		return viper.ConfigFileUsed(), nil
	}
	return "", fmt.Errorf("no map document: pass a file or --config, or create ./mapbridge.yaml")
}
