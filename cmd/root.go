/*
Copyright © 2020 Gal Amiram <galamiram1@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/galamiram/spotauth/prefs"
	"github.com/galamiram/spotauth/spotify"
)

var cfgFile string
var debug bool
var logToFile bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spotauth",
	Short: "Spotify login and track search from the terminal",
	Long: `spotauth logs in to Spotify with the OAuth 2.0 Authorization Code flow
with PKCE, keeps the access token and its expiry in a local preferences store,
and uses it to search tracks and read the current user's profile.

No client secret is needed: register an app at https://developer.spotify.com,
add the redirect URI (default http://127.0.0.1:8888/callback) and configure the
client ID with --client-id, SPOTAUTH_SPOTIFY_CLIENT_ID or $HOME/.spotauth.yaml.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spotauth.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "enable logging to file")

	rootCmd.PersistentFlags().String("client-id", "", "Spotify application client ID")
	rootCmd.PersistentFlags().String("redirect-url", "", "OAuth redirect URI registered for the app")
	rootCmd.PersistentFlags().String("store", "", "preferences store driver: file, sqlite or memory")
	rootCmd.PersistentFlags().String("store-path", "", "preferences store location")
	viper.BindPFlag("spotify.client_id", rootCmd.PersistentFlags().Lookup("client-id"))
	viper.BindPFlag("spotify.redirect_url", rootCmd.PersistentFlags().Lookup("redirect-url"))
	viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("store"))
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store-path"))

	setConfigDefaults()
}

func setConfigDefaults() {
	viper.SetDefault("spotify.redirect_url", spotify.DefaultRedirectURL)
	viper.SetDefault("spotify.scopes", spotify.DefaultScopes)
	viper.SetDefault("spotify.show_dialog", false)
	viper.SetDefault("login.timeout", spotify.DefaultLoginTimeout)
	viper.SetDefault("login.poll_interval", spotify.DefaultPollInterval)
	viper.SetDefault("login.callback_server", true)
	viper.SetDefault("store.driver", prefs.DriverFile)
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	log.Debug("Initializing configuration")

	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	if cfgFile != "" {
		// Use config file from the flag.
		log.WithField("configFile", cfgFile).Debug("Using config file from flag")
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.SetConfigType("yaml")
		viper.AddConfigPath(home)
		viper.SetConfigName(".spotauth")
	}

	// SPOTAUTH_SPOTIFY_CLIENT_ID maps to spotify.client_id
	viper.SetEnvPrefix("SPOTAUTH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore if it doesn't exist)
	if err := viper.ReadInConfig(); err == nil {
		log.WithField("configFile", viper.ConfigFileUsed()).Debug("Successfully loaded config file")
	} else {
		log.WithError(err).Debug("No config file found or failed to read (using defaults)")
	}
}

// clientConfig assembles the Spotify client configuration from viper
func clientConfig() spotify.Config {
	return spotify.Config{
		ClientID:              viper.GetString("spotify.client_id"),
		RedirectURL:           viper.GetString("spotify.redirect_url"),
		Scopes:                viper.GetStringSlice("spotify.scopes"),
		ShowDialog:            viper.GetBool("spotify.show_dialog"),
		AuthURL:               viper.GetString("spotify.auth_url"),
		TokenURL:              viper.GetString("spotify.token_url"),
		APIURL:                viper.GetString("spotify.api_url"),
		LoginTimeout:          viper.GetDuration("login.timeout"),
		PollInterval:          viper.GetDuration("login.poll_interval"),
		DisableCallbackServer: !viper.GetBool("login.callback_server"),
	}
}

// openStore opens the configured preferences store
func openStore() (prefs.Store, error) {
	return prefs.Open(viper.GetString("store.driver"), viper.GetString("store.path"))
}

// setupLogging applies --debug and --log-to-file
func setupLogging() {
	if logToFile {
		if err := setupFileLogging(true); err != nil {
			log.WithError(err).Warn("Failed to set up file logging, continuing with console only")
		}
	}
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}

// logFilePath returns where --log-to-file writes
func logFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".spotauth_logs", "spotauth.log"), nil
}

// openLogFile creates the log directory and opens the log file for appending
func openLogFile() (*os.File, error) {
	path, err := logFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// setupFileLogging configures file logging with optional console output
func setupFileLogging(includeConsole bool) error {
	file, err := openLogFile()
	if err != nil {
		return err
	}

	if includeConsole {
		log.SetOutput(io.MultiWriter(os.Stderr, file))
	} else {
		log.SetOutput(file)
	}
	setFileFormatter()

	// Capture everything once a file is involved
	log.SetLevel(log.DebugLevel)

	log.WithField("logFile", file.Name()).Info("File logging enabled")
	return nil
}

func setFileFormatter() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
	})
}

// formatExpiry renders an expiry with the remaining lifetime
func formatExpiry(expiry, now time.Time) string {
	remaining := expiry.Sub(now).Round(time.Second)
	return fmt.Sprintf("%s (in %s)", expiry.Local().Format("2006-01-02 15:04:05"), remaining)
}
