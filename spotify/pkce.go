package spotify

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/oauth2"
)

// StateLength is the length of the CSRF state parameter
const StateLength = 16

const stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PKCE holds the per-login secrets of the authorization code flow
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
}

// NewPKCE generates a fresh code verifier, its S256 challenge and a state token
func NewPKCE() (*PKCE, error) {
	verifier := oauth2.GenerateVerifier()

	state, err := generateRandomString(StateLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	return &PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

// generateRandomString returns length characters drawn uniformly from
// stateAlphabet. Bytes at or above the largest multiple of the alphabet size
// are discarded so every character is equally likely.
func generateRandomString(length int) (string, error) {
	const limit = 256 - 256%len(stateAlphabet)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, stateAlphabet[int(b)%len(stateAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
