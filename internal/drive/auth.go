package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	apperrors "github.com/bedrocktools/bedrock-sync/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ScopeAppData grants access to the application-private space only.
// The client never sees the rest of the user's Drive.
const ScopeAppData = "https://www.googleapis.com/auth/drive.appdata"

const (
	// tokenDirPerm is the permission mode for the directory holding the
	// cached token.
	tokenDirPerm = fs.FileMode(0o700)

	// tokenFilePerm keeps the cached OAuth token private to the user.
	tokenFilePerm = fs.FileMode(0o600)
)

// oauthConfig parses the OAuth client credentials file into a config
// scoped to the application data space.
func oauthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, ScopeAppData)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}

	return cfg, nil
}

// NewHTTPClient builds an authenticated http.Client from the
// credentials file and the cached token. A missing or unreadable token
// fails with ErrNotAuthenticated; run the login flow first.
func NewHTTPClient(ctx context.Context, credentialsFile, tokenFile string) (*http.Client, error) {
	cfg, err := oauthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("loading cached token: %w", apperrors.ErrNotAuthenticated)
	}

	return cfg.Client(ctx, tok), nil
}

// AuthURL returns the URL the user must visit to grant access.
func AuthURL(credentialsFile string) (string, error) {
	cfg, err := oauthConfig(credentialsFile)
	if err != nil {
		return "", err
	}

	return cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for a token and caches it at
// tokenFile for later runs.
func Exchange(ctx context.Context, credentialsFile, tokenFile, code string) error {
	cfg, err := oauthConfig(credentialsFile)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	return saveToken(tokenFile, tok)
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("decoding token file: %w", err)
	}

	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), tokenDirPerm); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if err := os.WriteFile(path, data, tokenFilePerm); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}
