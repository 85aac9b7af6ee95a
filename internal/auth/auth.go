// Package auth provides bot token credentials for the REST API and gateway.
package auth

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Scheme is the Authorization scheme for bot tokens.
const Scheme = "Bot"

// Credentials holds the bot token.
type Credentials struct {
	Token string // Bot token from the developer console
}

// LoadCredentials builds credentials from an inline token or a token file.
// The inline token wins when both are set.
func LoadCredentials(token, tokenFile string) (*Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" && tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	return &Credentials{Token: token}, nil
}

// AuthorizationHeader returns the Authorization header value.
func (c *Credentials) AuthorizationHeader() string {
	return Scheme + " " + c.Token
}

// Apply sets the Authorization header on h.
func (c *Credentials) Apply(h http.Header) {
	if c == nil || c.Token == "" {
		return
	}
	h.Set("Authorization", c.AuthorizationHeader())
}

// String redacts the token.
func (c *Credentials) String() string {
	if c == nil || len(c.Token) <= 4 {
		return "Credentials{***}"
	}
	return "Credentials{" + c.Token[:4] + "***}"
}
