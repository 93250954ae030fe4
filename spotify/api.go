package spotify

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	spotifyapi "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// SearchLimit is the number of tracks requested per search
const SearchLimit = 20

// api returns a Web API client that sends the current token as a bearer token
func (c *Client) api(ctx context.Context) (*spotifyapi.Client, error) {
	token, err := c.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	apiURL := c.cfg.APIURL
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	return spotifyapi.New(httpClient, spotifyapi.WithBaseURL(apiURL)), nil
}

// SearchTracks searches the Spotify catalog for tracks matching query
func (c *Client) SearchTracks(ctx context.Context, query string) ([]spotifyapi.FullTrack, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	client, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	result, err := client.Search(ctx, query, spotifyapi.SearchTypeTrack, spotifyapi.Limit(SearchLimit))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if result.Tracks == nil {
		return nil, nil
	}

	log.WithFields(log.Fields{
		"query":  query,
		"tracks": len(result.Tracks.Tracks),
	}).Debug("Search completed")
	return result.Tracks.Tracks, nil
}

// ArtistNames joins the names of the track's artists
func ArtistNames(t spotifyapi.FullTrack) string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// GetUserProfile returns the profile of the logged in user
func (c *Client) GetUserProfile(ctx context.Context) (*spotifyapi.PrivateUser, error) {
	client, err := c.api(ctx)
	if err != nil {
		return nil, err
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return user, nil
}
