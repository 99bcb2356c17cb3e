// Package lobbyclient implements the Lobby Client (spec §4.8): the
// OAuth2 client-credentials handshake and the reconnecting duplex text
// channel to the lobby server.
package lobbyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// oauthMetadata is the subset of RFC 8414 authorization server metadata
// the handshake needs (spec §4.8 step 1).
type oauthMetadata struct {
	TokenEndpoint          string   `json:"token_endpoint"`
	ResponseTypesSupported []string `json:"response_types_supported"`
}

// HandshakeError reports a failure of the OAuth2 handshake steps,
// distinct from a transport-level error so the supervisor can log the
// two differently if it ever wants to.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string { return "lobbyclient: handshake: " + e.Reason }

func discoverOAuth(ctx context.Context, httpClient *http.Client, baseURL string) (oauthMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/.well-known/oauth-authorization-server", nil)
	if err != nil {
		return oauthMetadata{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return oauthMetadata{}, fmt.Errorf("lobbyclient: discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauthMetadata{}, &HandshakeError{Reason: fmt.Sprintf("discovery returned status %d", resp.StatusCode)}
	}

	var meta oauthMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return oauthMetadata{}, &HandshakeError{Reason: "discovery response is not valid JSON: " + err.Error()}
	}
	if meta.TokenEndpoint == "" {
		return oauthMetadata{}, &HandshakeError{Reason: "discovery response missing token_endpoint"}
	}
	if !containsString(meta.ResponseTypesSupported, "token") {
		return oauthMetadata{}, &HandshakeError{Reason: `discovery response does not advertise "token" in response_types_supported`}
	}
	return meta, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func fetchToken(ctx context.Context, httpClient *http.Client, tokenEndpoint, clientID, clientSecret string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "tachyon.lobby")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(clientSecret))

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lobbyclient: token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("lobbyclient: reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oe oauthErrorBody
		if json.Unmarshal(body, &oe) == nil && oe.Error != "" {
			if oe.ErrorDescription != "" {
				return "", &HandshakeError{Reason: oe.Error + ": " + oe.ErrorDescription}
			}
			return "", &HandshakeError{Reason: oe.Error}
		}
		return "", &HandshakeError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &HandshakeError{Reason: "token response is not valid JSON: " + err.Error()}
	}
	if !strings.EqualFold(tok.TokenType, "Bearer") {
		return "", &HandshakeError{Reason: fmt.Sprintf("unexpected token_type %q", tok.TokenType)}
	}
	if tok.AccessToken == "" {
		return "", &HandshakeError{Reason: "token response missing access_token"}
	}
	return tok.AccessToken, nil
}
