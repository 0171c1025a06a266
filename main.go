package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
)

var (
	cfgFile string
	logger  *log.Logger
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().
		String("model", "", "Remote model id from the models list")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %s\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/scribe")
	}
	config.SetDefaults(viper.GetViper())
	config.Env(viper.GetViper())

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe streams audio to speech recognition services",
	Long: `Scribe is a client for realtime streaming transcription over websockets.

It can also transcribe whole files through OpenAI-compatible endpoints and
run a development bridge that speaks the realtime protocol.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads settings and wires the command's dependencies.
func bootstrap() (*config.Settings, do.Injector, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	injector := setupDI(settings)
	do.MustInvokeNamed[*log.Logger](injector, "main").
		Debug("configuration loaded", "file", viper.ConfigFileUsed())
	return settings, injector, nil
}

func createLoggers(debug bool) (mainLogger, liveLogger, batchLogger, bridgeLogger *log.Logger) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	logLevel := log.InfoLevel
	if debug {
		logLevel = log.DebugLevel
		logger.SetReportCaller(true)
		logger.SetCallerFormatter(
			func(file string, line int, funcName string) string {
				path, err := filepath.Rel(".", file)
				if err != nil {
					path = file
				}
				return fmt.Sprintf("%s:%d", path, line)
			},
		)
	}
	logger.SetLevel(logLevel)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	liveLogger = logger.With().WithPrefix("live")
	batchLogger = logger.With().WithPrefix("batch")
	bridgeLogger = logger.With().WithPrefix("bridge")

	return
}
