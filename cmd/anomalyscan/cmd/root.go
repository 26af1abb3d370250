package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"document-anomaly-service/pkg/logger"
)

var (
	cfgFile   string
	envFile   string
	verbose   bool
	logLevel  string
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"

	// appFs is the filesystem every command reads and writes through.
	appFs afero.Fs = afero.NewOsFs()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anomalyscan",
	Short: "Anomaly detection for scanned financial documents",
	Long: `Anomalyscan inspects the OCR text and page images of scanned financial
documents for signs of tampering or extraction trouble: balance mismatches,
check sequence gaps, page numbering gaps, duplicated transaction lines,
layout irregularities and image manipulation.

Examples:
  anomalyscan detect --text statement.txt --title "March statement" --page-count 4
  anomalyscan detect --text scan.txt --image scan.pdf --output-format json
  anomalyscan batch --manifest documents.yaml --results-file results.json
  anomalyscan reevaluate --results results.json --dry-run
  anomalyscan rules`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, YAML, TOML or JSON (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")
	rootCmd.PersistentFlags().String("rules-file", "", "boilerplate keyword TOML file (default: embedded list)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("rules-file", rootCmd.PersistentFlags().Lookup("rules-file"))
}

// initConfig reads the dotenv file, the config file and ANOMALY_* variables.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error reading env file: %s\n", err)
			os.Exit(4)
		}
	}

	viper.SetEnvPrefix("ANOMALY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}
	}

	if err := setupLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %s\n", err)
		os.Exit(4)
	}

	if viper.GetBool("verbose") && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setupLogger() error {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(viper.GetString("log-level")))
	config.Format = logger.Format(strings.ToLower(viper.GetString("log-format")))
	if viper.GetBool("verbose") && config.Level != logger.DebugLevel {
		config.Level = logger.InfoLevel
	}

	log, err := logger.NewLogger(config)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
