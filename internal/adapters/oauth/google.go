package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderGoogle is the provider name used in routes and identity calls.
const ProviderGoogle = "google"

const defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// ErrEmailUnverified means the provider returned an address it has not verified.
var ErrEmailUnverified = errors.New("oauth provider email is not verified")

// GoogleConfig configures the Google sign-in client.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string         // e.g. https://robolearn.example/auth/google/callback
	Endpoint     oauth2.Endpoint // zero value means Google's production endpoints
	UserInfoURL  string         // empty means Google's OpenID userinfo endpoint
}

// Google exchanges authorization codes for a verified email address.
type Google struct {
	cfg         *oauth2.Config
	userInfoURL string
}

// NewGoogle creates a Google OAuth client requesting the openid and email scopes.
// PRE: ClientID and ClientSecret are non-empty
// POST: Returns a ready client
func NewGoogle(c GoogleConfig) *Google {
	endpoint := c.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = endpoints.Google
	}
	userInfo := c.UserInfoURL
	if userInfo == "" {
		userInfo = defaultUserInfoURL
	}
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: userInfo,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Profile is what sign-in needs from the provider.
type Profile struct {
	Email string
	Name  string
}

type userInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange trades the authorization code for a token and reads the user's profile.
// PRE: code came from the provider's redirect
// POST: Returns a verified email, or ErrEmailUnverified
func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange google code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Profile{}, err
	}
	resp, err := g.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("google userinfo: status %d", resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("decode google userinfo: %w", err)
	}
	if info.Email == "" || !info.EmailVerified {
		return Profile{}, ErrEmailUnverified
	}
	return Profile{Email: info.Email, Name: info.Name}, nil
}
