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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/galamiram/spotauth/tui"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive Spotify search interface",
	Long: `Launch an interactive terminal interface for logging in to Spotify and
searching tracks.

Keyboard shortcuts:
  Enter     - Search
  ↑/↓       - Select a result
  Ctrl+L    - Log in
  Ctrl+O    - Log out
  Ctrl+R    - Refresh login status
  Ctrl+G    - Toggle the log panel
  Esc/Ctrl+C - Quit

Log output goes to the log panel. With --log-to-file or --debug it is also
written to ~/.spotauth_logs/spotauth.log.

Examples:
  spotauth tui               # Launch the TUI interface`,
	Run: func(cmd *cobra.Command, args []string) {
		client := mustSpotifyClient()
		defer resetSpotifyClient()

		app := tui.NewApp(client)

		var logFile *os.File
		if logToFile || debug {
			f, err := openLogFile()
			if err != nil {
				log.WithError(err).Warn("Failed to open log file, logging to the TUI only")
			} else {
				logFile = f
				defer logFile.Close()
				setFileFormatter()
			}
		}
		tui.SetupTUILogging(app, logFile)

		log.Debug("Launching TUI interface")

		p := tea.NewProgram(app, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
