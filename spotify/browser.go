package spotify

import (
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Browser shows the authorization page to the user
type Browser interface {
	Open(url string) error
	Close() error
}

// SystemBrowser opens URLs in the default desktop browser
type SystemBrowser struct{}

// Open opens the default browser with the given URL
func (SystemBrowser) Open(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)

	return exec.Command(cmd, args...).Start()
}

// Close does nothing; the success page closes its own tab.
func (SystemBrowser) Close() error {
	log.Debug("Browser tab is closed by the callback page")
	return nil
}
