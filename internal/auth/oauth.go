package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Profile is the identity an OAuth provider vouches for.
// ID is the provider's stable user id, never the email.
type Profile struct {
	Provider string
	ID       string
	Email    string
	Name     string
}

// Provider is one OAuth 2.0 authorization-code login.
//
//	AuthURL(state)   → where to send the browser
//	Exchange(code)   → trade the callback code for a Profile (server to server)
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// ==================== GitHub ====================

const (
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"` // empty when the user hides it
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type GitHubProvider struct {
	config    *oauth2.Config
	userURL   string
	emailsURL string
}

// NewGitHubProvider needs an OAuth App from https://github.com/settings/developers.
// callbackURL must match the app's callback URL exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoints.GitHub,
		},
		userURL:   githubUserURL,
		emailsURL: githubEmailsURL,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and reads /user with it. A hidden
// profile email is looked up in /user/emails (primary and verified only).
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}
	client := p.config.Client(ctx, token)

	var u githubUser
	if err := getJSON(client, p.userURL, &u); err != nil {
		return nil, fmt.Errorf("auth: GitHub user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	email := u.Email
	if email == "" {
		var emails []githubEmail
		if err := getJSON(client, p.emailsURL, &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					email = e.Email
					break
				}
			}
		}
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}

	return &Profile{
		Provider: p.Name(),
		ID:       strconv.FormatInt(u.ID, 10),
		Email:    email,
		Name:     name,
	}, nil
}

// ==================== Google ====================

const googleUserURL = "https://openidconnect.googleapis.com/v1/userinfo"

type googleUser struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type GoogleProvider struct {
	config  *oauth2.Config
	userURL string
}

// NewGoogleProvider needs an OAuth client from the Google Cloud console.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userURL: googleUserURL,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	var u googleUser
	if err := getJSON(p.config.Client(ctx, token), p.userURL, &u); err != nil {
		return nil, fmt.Errorf("auth: Google userinfo: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("auth: Google returned a user without a subject")
	}

	return &Profile{
		Provider: p.Name(),
		ID:       u.Sub,
		Email:    u.Email,
		Name:     u.Name,
	}, nil
}

// getJSON GETs url with an authorised client and decodes the body into v.
func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
