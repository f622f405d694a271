package drivex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrTokenNotFound means the OAuth client has no stored user token.
// Obtaining one requires the interactive consent flow, which is not run here.
var ErrTokenNotFound = errors.New("drive user token not found")

const defaultTokenFile = "token.json"

// TokenSource produces bearer tokens for the Drive API.
// A service-account key is used as is. An OAuth client file is combined with
// the stored user token, which is refreshed on expiry and written back to tokenFile.
func TokenSource(ctx context.Context, credentialsFile, tokenFile string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read drive credentials: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unable to parse drive credentials: %w", err)
	}

	if head.Type == "service_account" {
		//nolint:staticcheck
		creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account: %w", err)
		}
		return creds.TokenSource, nil
	}

	cfg, err := google.ConfigFromJSON(data, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse oauth client: %w", err)
	}
	if tokenFile == "" {
		tokenFile = filepath.Join(filepath.Dir(credentialsFile), defaultTokenFile)
	}
	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return &persistingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok,
	}, nil
}

// persistingTokenSource saves every newly issued token, so a refreshed
// access token and a rotated refresh token survive restarts.
type persistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if err := writeToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok
	}
	return tok, nil
}

func readToken(p string) (*oauth2.Token, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, p)
		}
		return nil, fmt.Errorf("unable to read drive token: %w", err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("unable to parse drive token: %w", err)
	}
	return tok, nil
}

func writeToken(p string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("unable to save drive token: %w", err)
	}
	return os.Rename(tmp, p)
}
