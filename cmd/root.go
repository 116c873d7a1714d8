// Package cmd provides the seismic command line.
//
// Configuration is read, highest priority first, from:
//
//  1. Command-line flags (--config, --port, --log-level, ...)
//  2. SEISMIC_<SECTION>_<KEY> environment variables (SEISMIC_SERVER_PORT,
//     SEISMIC_CONTACT_RECIPIENT, ...)
//  3. The config file: --config, else SEISMIC_CONFIG_FILE, else
//     .seismic.yml in the working directory
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/relay"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "seismic",
	Short: "Seismic BV site server and Nostr contact relay",
	Long: `seismic serves the Seismic BV site and forwards contact form messages
as encrypted Nostr direct messages to the configured recipient.

Quick Start:
  seismic keygen                  Create a recipient keypair
  seismic serve                   Start the site server
  seismic send -n Ada -e ada@example.com -m "Hello"
                                  Send a contact message from the terminal
  seismic decrypt --key nsec1...  Open a received message`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .seismic.yml, can also use SEISMIC_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// bindFlags binds each named flag to its configuration key.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SEISMIC_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".seismic")
	}

	config.BindEnv(viper.GetViper())

	// a missing file falls back to defaults
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(cfg config.LogConfig) logging.Logger {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: os.Stderr,
	})
}

// newDispatcher builds the relay pool and the dispatcher from cfg.
func newDispatcher(cfg *config.Config, logger logging.Logger, opts ...contact.Option) (*contact.Dispatcher, *relay.Pool, error) {
	recipient, err := cfg.Contact.RecipientKey()
	if err != nil {
		return nil, nil, err
	}
	cipher, err := cfg.Contact.CipherImpl()
	if err != nil {
		return nil, nil, err
	}

	pool := relay.NewPool(cfg.Contact.Relays,
		relay.WithTimeout(cfg.Contact.PublishTimeout),
		relay.WithLogger(logger))

	d, err := contact.NewDispatcher(contact.DispatcherConfig{
		Recipient:      recipient,
		Cipher:         cipher,
		MaxMessageSize: cfg.Contact.MaxMessageSize,
	}, pool, append([]contact.Option{contact.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return d, pool, nil
}
