package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/squire/backend/internal/config"
	"github.com/squire/backend/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthProviderService handles the external identity providers users can
// link their account to.
type OAuthProviderService struct {
	Cfg *config.Config
}

func NewOAuthProviderService(cfg *config.Config) *OAuthProviderService {
	return &OAuthProviderService{Cfg: cfg}
}

// ExternalProfile is the subset of provider user info stored on a linked
// account.
type ExternalProfile struct {
	ProviderUserID string
	Email          string
	Name           string
}

func (s *OAuthProviderService) EnabledProviders() []string {
	providers := []string{}
	if s.Cfg.SSO.Google.Enabled {
		providers = append(providers, "google")
	}
	if s.Cfg.SSO.GitHub.Enabled {
		providers = append(providers, "github")
	}
	return providers
}

func (s *OAuthProviderService) GetOAuthConfig(provider string) (*oauth2.Config, error) {
	switch strings.ToLower(provider) {
	case "google":
		if !s.Cfg.SSO.Google.Enabled {
			return nil, errors.New("google oauth is not enabled")
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.SSO.Google.ClientID,
			ClientSecret: s.Cfg.SSO.Google.ClientSecret,
			RedirectURL:  s.Cfg.SSO.Google.RedirectURL,
			Scopes:       strings.Split(s.Cfg.SSO.Google.Scopes, ","),
			Endpoint:     google.Endpoint,
		}, nil

	case "github":
		if !s.Cfg.SSO.GitHub.Enabled {
			return nil, errors.New("github oauth is not enabled")
		}
		return &oauth2.Config{
			ClientID:     s.Cfg.SSO.GitHub.ClientID,
			ClientSecret: s.Cfg.SSO.GitHub.ClientSecret,
			RedirectURL:  s.Cfg.SSO.GitHub.RedirectURL,
			Scopes:       strings.Split(s.Cfg.SSO.GitHub.Scopes, ","),
			Endpoint:     github.Endpoint,
		}, nil

	default:
		return nil, errors.New("unknown oauth provider: " + provider)
	}
}

func (s *OAuthProviderService) ExchangeCode(ctx context.Context, provider string, code string) (*oauth2.Token, error) {
	oauthCfg, err := s.GetOAuthConfig(provider)
	if err != nil {
		return nil, err
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		logger.Warn("oauth_exchange_failed", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		return nil, errors.New("failed to exchange code for token")
	}

	return token, nil
}

func (s *OAuthProviderService) GetUserInfo(ctx context.Context, provider string, token *oauth2.Token) (*ExternalProfile, error) {
	oauthCfg, err := s.GetOAuthConfig(provider)
	if err != nil {
		return nil, err
	}
	client := oauthCfg.Client(ctx, token)

	switch strings.ToLower(provider) {
	case "google":
		return fetchGoogleProfile(client)
	case "github":
		return fetchGitHubProfile(client)
	default:
		return nil, errors.New("unknown oauth provider: " + provider)
	}
}

func fetchGoogleProfile(client *http.Client) (*ExternalProfile, error) {
	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(client, "https://www.googleapis.com/oauth2/v2/userinfo", &payload); err != nil {
		return nil, err
	}
	return &ExternalProfile{ProviderUserID: payload.ID, Email: payload.Email, Name: payload.Name}, nil
}

func fetchGitHubProfile(client *http.Client) (*ExternalProfile, error) {
	var payload struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(client, "https://api.github.com/user", &payload); err != nil {
		return nil, err
	}

	profile := &ExternalProfile{
		ProviderUserID: fmt.Sprintf("%d", payload.ID),
		Email:          payload.Email,
		Name:           payload.Name,
	}
	if profile.Name == "" {
		profile.Name = payload.Login
	}

	// The primary email is hidden unless the user made it public.
	if profile.Email == "" {
		var emails []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		}
		if err := fetchJSON(client, "https://api.github.com/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary {
					profile.Email = e.Email
					break
				}
			}
		}
	}
	return profile, nil
}

func fetchJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
