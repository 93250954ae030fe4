package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/galamiram/spotauth/prefs"
	"github.com/galamiram/spotauth/spotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	spotifyapi "github.com/zmb3/spotify/v2"
)

var (
	spotifyClient *spotify.Client
	spotifyStore  prefs.Store
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Spotify",
	Long: `Log in to Spotify with the Authorization Code flow and PKCE.

A browser is opened at the Spotify authorization page. By default a small
server on the redirect URI receives the redirect; with --no-server, deliver
it yourself with 'spotauth callback <url>' from another terminal.`,
	Example: `  spotauth login
  spotauth login --no-server --timeout 2m`,
	Run: func(cmd *cobra.Command, args []string) {
		if noServer, _ := cmd.Flags().GetBool("no-server"); noServer {
			viper.Set("login.callback_server", false)
		}

		client := mustSpotifyClient()
		ctx, stop := signalContext()
		defer stop()

		if client.IsLoggedIn(ctx) {
			fmt.Fprintln(cmd.OutOrStdout(), "Already logged in to Spotify. Run 'spotauth logout' first to switch accounts.")
			return
		}

		if err := client.Login(ctx); err != nil {
			log.WithError(err).Fatal("Spotify login failed")
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged in to Spotify!")
		printStatus(ctx, cmd.OutOrStdout(), client)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out of Spotify",
	Long: `Forget the stored access token, its expiry and any pending login.

With --purge every entry in the preferences store is removed and the
preferences file is deleted.`,
	Run: func(cmd *cobra.Command, args []string) {
		purge, _ := cmd.Flags().GetBool("purge")
		client := mustSpotifyClient()
		if err := runLogout(context.Background(), cmd.OutOrStdout(), client, spotifyStore, purge); err != nil {
			log.WithError(err).Fatal("Failed to log out")
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Spotify login status",
	Long:  `Show whether a usable access token is stored and when it expires.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := mustSpotifyClient()
		printStatus(context.Background(), cmd.OutOrStdout(), client)
	},
}

var callbackCmd = &cobra.Command{
	Use:   "callback <redirect-url>",
	Short: "Complete a login with the redirect URL",
	Long: `Complete a pending login by handing over the URL Spotify redirected to.

Use this with 'spotauth login --no-server', or register it as the handler for a
custom URL scheme. The token is written to the preferences store, where the
waiting login picks it up. The memory store cannot be shared between processes.`,
	Example: `  spotauth callback 'http://127.0.0.1:8888/callback?code=...&state=...'`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := mustSpotifyClient()
		if strings.EqualFold(viper.GetString("store.driver"), prefs.DriverMemory) {
			log.Warn("The memory store is not shared with the process running 'spotauth login'")
		}

		if err := client.HandleCallback(context.Background(), args[0]); err != nil {
			log.WithError(err).Fatal("Failed to complete Spotify login")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Spotify authorization received")
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search Spotify tracks",
	Long:  `Search the Spotify catalog and print up to 20 matching tracks.`,
	Example: `  spotauth search daft punk
  spotauth search --json "around the world"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		client := mustSpotifyClient()

		if err := runSearch(context.Background(), cmd.OutOrStdout(), client, strings.Join(args, " "), asJSON); err != nil {
			log.WithError(err).Fatal("Search failed")
		}
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the current Spotify user",
	Long:  `Print the profile of the logged in Spotify user.`,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		client := mustSpotifyClient()

		if err := runMe(context.Background(), cmd.OutOrStdout(), client, asJSON); err != nil {
			log.WithError(err).Fatal("Failed to get user profile")
		}
	},
}

// getSpotifyClient builds the client once per process
func getSpotifyClient() (*spotify.Client, error) {
	if spotifyClient != nil {
		return spotifyClient, nil
	}

	cfg := clientConfig()
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("Spotify client ID not configured. Use --client-id, SPOTAUTH_SPOTIFY_CLIENT_ID or spotify.client_id in the config file")
	}

	store, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences store: %w", err)
	}

	client, err := spotify.NewClient(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	spotifyStore = store
	spotifyClient = client
	return client, nil
}

func mustSpotifyClient() *spotify.Client {
	client, err := getSpotifyClient()
	if err != nil {
		log.WithError(err).Fatal("Failed to set up Spotify client")
	}
	return client
}

// resetSpotifyClient closes the store and forgets the cached client
func resetSpotifyClient() {
	if spotifyStore != nil {
		spotifyStore.Close()
	}
	spotifyStore = nil
	spotifyClient = nil
}

// signalContext is canceled on Ctrl+C so a waiting login can stop cleanly
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runLogout(ctx context.Context, out io.Writer, client *spotify.Client, store prefs.Store, purge bool) error {
	if err := client.Logout(ctx); err != nil {
		return err
	}
	if purge {
		if err := prefs.Purge(ctx, store); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logged out of Spotify and cleared all preferences")
		return nil
	}
	fmt.Fprintln(out, "Logged out of Spotify")
	return nil
}

func printStatus(ctx context.Context, out io.Writer, client *spotify.Client) {
	expiry, err := client.TokenExpiry(ctx)
	if err != nil {
		fmt.Fprintln(out, "Not logged in to Spotify. Run 'spotauth login'.")
		return
	}
	fmt.Fprintln(out, "Logged in to Spotify")
	fmt.Fprintf(out, "Token expires: %s\n", formatExpiry(expiry, time.Now()))
}

// trackOutput is the --json shape of a search result
type trackOutput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artists    string `json:"artists"`
	Album      string `json:"album"`
	DurationMs int    `json:"duration_ms"`
	URI        string `json:"uri"`
}

func runSearch(ctx context.Context, out io.Writer, client *spotify.Client, query string, asJSON bool) error {
	tracks, err := client.SearchTracks(ctx, query)
	if err != nil {
		return err
	}

	rows := make([]trackOutput, 0, len(tracks))
	for _, t := range tracks {
		rows = append(rows, trackOutput{
			ID:         string(t.ID),
			Name:       t.Name,
			Artists:    spotify.ArtistNames(t),
			Album:      t.Album.Name,
			DurationMs: int(t.Duration),
			URI:        string(t.URI),
		})
	}

	if asJSON {
		return writeJSON(out, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintf(out, "No tracks found for %q\n", query)
		return nil
	}
	for i, r := range rows {
		d := time.Duration(r.DurationMs) * time.Millisecond
		fmt.Fprintf(out, "%2d. %s - %s [%s] (%d:%02d)\n",
			i+1, r.Name, r.Artists, r.Album, int(d.Minutes()), int(d.Seconds())%60)
	}
	return nil
}

func runMe(ctx context.Context, out io.Writer, client *spotify.Client, asJSON bool) error {
	user, err := client.GetUserProfile(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, profileOutput(user))
	}

	fmt.Fprintf(out, "Display name: %s\n", user.DisplayName)
	fmt.Fprintf(out, "ID:           %s\n", user.ID)
	if user.Email != "" {
		fmt.Fprintf(out, "Email:        %s\n", user.Email)
	}
	if user.Country != "" {
		fmt.Fprintf(out, "Country:      %s\n", user.Country)
	}
	if user.Product != "" {
		fmt.Fprintf(out, "Product:      %s\n", user.Product)
	}
	return nil
}

func profileOutput(user *spotifyapi.PrivateUser) map[string]string {
	return map[string]string{
		"id":           user.ID,
		"display_name": user.DisplayName,
		"email":        user.Email,
		"country":      user.Country,
		"product":      user.Product,
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	loginCmd.Flags().Bool("no-server", false, "do not start the loopback callback server")
	loginCmd.Flags().Duration("timeout", spotify.DefaultLoginTimeout, "how long to wait for the authorization")
	viper.BindPFlag("login.timeout", loginCmd.Flags().Lookup("timeout"))

	logoutCmd.Flags().Bool("purge", false, "remove every stored preference, not only the Spotify session")

	searchCmd.Flags().Bool("json", false, "print results as JSON")
	meCmd.Flags().Bool("json", false, "print the profile as JSON")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(callbackCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(meCmd)
}
