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
	"os"
	"os/signal"
	"syscall"

	"github.com/galamiram/spotauth/simulator"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	simulatorAddr string
	simulatorDeny bool
)

// simulatorCmd represents the simulator command
var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Start a local Spotify simulator for testing",
	Long: `Start a local server that emulates the Spotify accounts service and the
search and profile endpoints of the Web API.

This is useful for trying the login flow, the CLI commands and the TUI without
a Spotify developer account. The simulator enforces PKCE: codes are single use
and the code_verifier must match the code_challenge sent to /authorize.
Authorization is granted automatically unless --deny is given.

Examples:
  spotauth simulator                        # Listen on 127.0.0.1:8800
  spotauth simulator --addr 127.0.0.1:9000  # Custom address
  spotauth simulator --deny                 # Every authorization is declined`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info("Starting Spotify simulator...")

		sim := simulator.NewSpotifySimulator(simulator.WithDenyAccess(simulatorDeny))
		if err := sim.Start(simulatorAddr); err != nil {
			log.WithError(err).Fatal("Failed to start simulator")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Spotify simulator is running at %s\n", sim.URL())
		fmt.Fprintln(out)
		fmt.Fprintln(out, "To point spotauth at it:")
		for _, line := range simulatorEnv(sim.URL()) {
			fmt.Fprintf(out, "   export %s\n", line)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Then run '%s login' in another terminal.\n", os.Args[0])
		fmt.Fprintln(out, "Press Ctrl+C to stop the simulator")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down simulator...")
		if err := sim.Stop(); err != nil {
			log.WithError(err).Error("Error stopping simulator")
		}
	},
}

// simulatorEnv lists the environment that routes spotauth to a simulator at baseURL
func simulatorEnv(baseURL string) []string {
	return []string{
		"SPOTAUTH_SPOTIFY_CLIENT_ID=simulator",
		"SPOTAUTH_SPOTIFY_AUTH_URL=" + baseURL + "/authorize",
		"SPOTAUTH_SPOTIFY_TOKEN_URL=" + baseURL + "/api/token",
		"SPOTAUTH_SPOTIFY_API_URL=" + baseURL + "/v1/",
	}
}

func init() {
	rootCmd.AddCommand(simulatorCmd)
	simulatorCmd.Flags().StringVar(&simulatorAddr, "addr", simulator.DefaultAddr, "Address to listen on")
	simulatorCmd.Flags().BoolVar(&simulatorDeny, "deny", false, "Decline every authorization request")
}
