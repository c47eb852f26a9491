package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "unittestgen",
	Short: "unittestgen helps you write C# unit tests with an LLM advisor",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger(false)
	},
	SilenceUsage: true,
}

// initLogger configures the global logger from viper. quiet drops the
// stderr output, for when a full screen UI owns the terminal.
func initLogger(quiet bool) {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
		Quiet:      quiet,
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
	Quiet      bool
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("unittestgen")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.unittestgen")
		viper.AddConfigPath("/etc/unittestgen")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/unittestgen")
		}
	}

	err := viper.ReadInConfig()
	// a missing config file is fine
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	initLogger(false)

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func InitLogger(config *logConfig) error {
	logger := zerolog.New(io.Discard).With().Timestamp()
	if config.WithCaller {
		logger = logger.Caller()
	}

	// default is json
	var writers []io.Writer
	if !config.Quiet {
		if config.LogFormat == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if config.LogFile != "" {
		writers = append(writers, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, //days
				Compress:   false,
			},
		})
	}

	var logWriter io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		logWriter = writers[0]
	default:
		logWriter = io.MultiWriter(writers...)
	}

	log.Logger = logger.Logger().Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	// logging flags
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.unittestgen/config.yaml)")

	// provider flags
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("openai-base-url", "", "OpenAI compatible API base URL")
	rootCmd.PersistentFlags().String("model", "gpt-4o-mini", "Model to use")
	rootCmd.PersistentFlags().Int("max-response-tokens", 3000, "Maximum number of tokens in a response")
	rootCmd.PersistentFlags().Float64("temperature", 0, "Sampling temperature (default: the prompt's)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Time to wait for the provider to answer one attempt (default 60s)")
	rootCmd.PersistentFlags().Duration("total-timeout", 0, "Time to wait for an answer across all attempts (default 5m)")
	rootCmd.PersistentFlags().Int("max-retries", 3, "Retries of rate limited requests")
	rootCmd.PersistentFlags().Duration("retry-backoff-base", 0, "Backoff before the first retry, doubled on each retry (default 1s)")
	rootCmd.PersistentFlags().Bool("echo", false, "Use the offline echo engine instead of a provider")

	// history flags
	rootCmd.PersistentFlags().String("autosave", "no", "Autosave the chat history (yes, no)")
	rootCmd.PersistentFlags().String("autosave-dir", "", "Autosave directory (default ~/.unittestgen/history)")

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	err := initCommands(rootCmd, configFile)
	if err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newFilesCommand())
}
