package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:           "runtail",
	Short:         "runtail follows the event and output streams of loopd runs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed now, so --config, --log-level and co are known
		err := initConfig(viper.GetString("config"))
		if err != nil {
			return err
		}
		return initLogger(&logConfig{
			Level:     viper.GetString("log-level"),
			LogFormat: viper.GetString("log-format"),
			LogFile:   viper.GetString("log-file"),
		})
	},
}

type logConfig struct {
	Level     string
	LogFormat string
	LogFile   string
}

func initConfig(configPath string) error {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.runtail")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/runtail")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil && configPath != "" {
		return err
	}

	log.Debug().Str("config", viper.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

func initLogger(config *logConfig) error {
	var logWriter io.Writer
	if config.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			&lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
	}

	log.Logger = log.Output(logWriter)

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default ./config.yaml or ~/.runtail/config.yaml)")
	flags.String("addr", defaultAddr, "Base URL of the loopd daemon")
	flags.String("token", "", "Bearer token for the loopd daemon")
	flags.Duration("timeout", defaultTimeout, "Timeout for establishing a single connection")
	flags.Bool("trace", false, "Create OpenTelemetry spans for connection attempts")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Additional log file")

	// LOOPD_ADDR and LOOPD_TOKEN are shared with the other loop tools
	viper.SetEnvPrefix("runtail")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindEnv("addr", "LOOPD_ADDR", "RUNTAIL_ADDR"))
	cobra.CheckErr(viper.BindEnv("token", "LOOPD_TOKEN", "RUNTAIL_TOKEN"))
	cobra.CheckErr(viper.BindPFlags(flags))

	rootCmd.AddCommand(newEventsCommand(), newOutputCommand(), newWatchCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("runtail failed")
		os.Exit(1)
	}
}
