package spotify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	callbackReadTimeout     = 10 * time.Second
	callbackWriteTimeout    = 10 * time.Second
	callbackShutdownTimeout = 5 * time.Second
)

// StartCallbackServer starts an HTTP server on the redirect URI that hands
// each redirect to HandleCallback. A running server is replaced.
func (c *Client) StartCallbackServer(ctx context.Context) error {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()

	if c.server != nil {
		log.Debug("Cleaning up existing server before starting new one")
		c.shutdownLocked()
	}

	u, err := url.Parse(c.cfg.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	listener, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, c.handleCallback)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  callbackReadTimeout,
		WriteTimeout: callbackWriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	c.server = server
	c.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Callback server error")
		}
	}()

	log.WithFields(log.Fields{
		"address": listener.Addr().String(),
		"path":    path,
	}).Info("Callback server started")
	return nil
}

// StopCallbackServer stops the OAuth callback server
func (c *Client) StopCallbackServer() error {
	c.serverMu.Lock()
	defer c.serverMu.Unlock()

	if c.server == nil {
		return nil
	}
	return c.shutdownLocked()
}

func (c *Client) shutdownLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	err := c.server.Shutdown(ctx)
	// Shutdown only closes listeners Serve has picked up
	if cerr := c.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	c.server = nil
	c.listener = nil
	if err != nil {
		log.WithError(err).Debug("Error during server shutdown")
	} else {
		log.Debug("Callback server stopped")
	}
	return err
}

// handleCallback handles the OAuth redirect from Spotify
func (c *Client) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.WithField("path", r.URL.Path).Debug("Received callback")

	err := c.HandleCallback(r.Context(), r.URL.String())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var authErr *AuthorizationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, successPage)
	case errors.As(err, &authErr):
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, failurePage, html.EscapeString(authErr.Code))
	default:
		log.WithError(err).Warn("Rejected callback")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, invalidPage, html.EscapeString(rejectionReason(err)))
	}
}

// rejectionReason is the text shown to whoever sent a rejected callback
func rejectionReason(err error) string {
	var mismatch *StateMismatchError
	switch {
	case errors.Is(err, ErrMissingCodeOrState):
		return "The redirect is missing its code or state."
	case errors.As(err, &mismatch) && !mismatch.Pending, errors.Is(err, ErrMissingVerifier):
		return "No login is pending."
	case errors.As(err, &mismatch):
		return "The redirect does not belong to the pending login."
	default:
		return "The authorization could not be completed."
	}
}

const pageStyle = `
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background-color: #f5f5f5; }
        .container { background: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); max-width: 500px; margin: 0 auto; }
        .success { color: #1db954; }
        .error { color: #e22134; }
        .icon { font-size: 48px; margin-bottom: 20px; }
        .countdown { color: #666; font-size: 14px; margin-top: 10px; }`

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Spotify Authentication</title>
    <style>` + pageStyle + `
    </style>
    <script>
        let countdown = 3;
        function updateCountdown() {
            const el = document.getElementById('countdown');
            if (el) {
                el.textContent = 'This tab will close automatically in ' + countdown + ' seconds...';
            }
            countdown--;
            if (countdown < 0) {
                try {
                    window.close();
                } catch (e) {
                    window.location.href = 'about:blank';
                }
            } else {
                setTimeout(updateCountdown, 1000);
            }
        }
        window.onload = function() {
            setTimeout(updateCountdown, 1000);
        };
    </script>
</head>
<body>
    <div class="container">
        <div class="icon success">&#10003;</div>
        <h1 class="success">Authentication Successful!</h1>
        <p>spotauth is now connected to Spotify. You can return to the terminal.</p>
        <div class="countdown" id="countdown">This tab will close automatically in 3 seconds...</div>
    </div>
</body>
</html>`

const failurePage = `<!DOCTYPE html>
<html>
<head>
    <title>Spotify Authentication</title>
    <style>` + pageStyle + `
    </style>
</head>
<body>
    <div class="container">
        <div class="icon error">&#10007;</div>
        <h1 class="error">Authentication Failed</h1>
        <p>Spotify did not grant access: %s</p>
        <p>Please run <code>spotauth login</code> again.</p>
    </div>
</body>
</html>`

const invalidPage = `<!DOCTYPE html>
<html>
<head>
    <title>Spotify Authentication</title>
    <style>` + pageStyle + `
    </style>
</head>
<body>
    <div class="container">
        <div class="icon error">&#63;</div>
        <h1 class="error">Invalid Request</h1>
        <p>%s</p>
        <p>Please run <code>spotauth login</code> again.</p>
    </div>
</body>
</html>`
