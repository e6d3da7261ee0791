package login

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/apperr"
	"github.com/jmcleod/irongate/internal/util"
	"github.com/jmcleod/irongate/session"
)

const (
	defaultIDClaim   = "sub"
	stateBytes       = 32
	maxUserInfoBytes = 1 << 20
)

// OAuth2Driver runs the authorization code flow and reads the user from the
// provider's user info endpoint.
type OAuth2Driver struct {
	name     string
	settings config.LoginProviderSettings
	client   *http.Client
}

var _ Driver = (*OAuth2Driver)(nil)

// NewOAuth2Driver validates settings. userInfoEndpoint is required.
func NewOAuth2Driver(name string, s config.LoginProviderSettings, client *http.Client) (*OAuth2Driver, error) {
	problems := settingsProblems(s)
	if !absoluteURL(s.UserInfoEndpoint) {
		problems = append(problems, "userInfoEndpoint missing or not an absolute URL")
	}
	if len(problems) > 0 {
		return nil, &SettingsError{Provider: name, Problems: problems}
	}
	if s.IDClaim == "" {
		s.IDClaim = defaultIDClaim
	}
	return &OAuth2Driver{name: name, settings: s, client: client}, nil
}

func (d *OAuth2Driver) oauthConfig(callbackURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     d.settings.ClientID,
		ClientSecret: d.settings.ClientSecret,
		Scopes:       d.settings.Scopes,
		RedirectURL:  callbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  d.settings.AuthEndpoint,
			TokenURL: d.settings.TokenEndpoint,
		},
	}
}

func (d *OAuth2Driver) StartLogin(_ context.Context, callbackURL string) (string, string, error) {
	state, err := newState()
	if err != nil {
		return "", "", err
	}
	return d.oauthConfig(callbackURL).AuthCodeURL(state), state, nil
}

func (d *OAuth2Driver) ProcessCallback(ctx context.Context, r *http.Request, expectedState, callbackURL string) (session.UserModel, error) {
	tok, err := d.exchange(ctx, r, expectedState, callbackURL, nil)
	if err != nil {
		return session.UserModel{}, err
	}
	return d.userInfo(ctx, tok)
}

func (d *OAuth2Driver) FederatedLogoutURL(session.UserModel) string {
	return d.settings.FederatedLogoutURL
}

func (d *OAuth2Driver) clientContext(ctx context.Context) context.Context {
	if d.client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, d.client)
}

// exchange validates the callback parameters and redeems the code.
func (d *OAuth2Driver) exchange(ctx context.Context, r *http.Request, expectedState, callbackURL string, opts []oauth2.AuthCodeOption) (*oauth2.Token, error) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%w: provider returned %q", ErrAuthentication, util.SanitizeForLog(e))
	}
	state := q.Get("state")
	if state == "" {
		return nil, fmt.Errorf("%w: no state", ErrAuthentication)
	}
	if expectedState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expectedState)) != 1 {
		return nil, fmt.Errorf("%w: state mismatch", ErrAuthentication)
	}
	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: no code", ErrAuthentication)
	}

	tok, err := d.oauthConfig(callbackURL).Exchange(d.clientContext(ctx), code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: token endpoint: %v", ErrAuthentication, err)
		}
		return nil, apperr.Environment("token endpoint unavailable", err)
	}
	return tok, nil
}

func (d *OAuth2Driver) userInfo(ctx context.Context, tok *oauth2.Token) (session.UserModel, error) {
	ctx = d.clientContext(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.settings.UserInfoEndpoint, nil)
	if err != nil {
		return session.UserModel{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.oauthConfig("").Client(ctx, tok).Do(req)
	if err != nil {
		return session.UserModel{}, apperr.Environment("user info endpoint unavailable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return session.UserModel{}, fmt.Errorf("%w: user info rejected the access token", ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		return session.UserModel{}, apperr.Environment(fmt.Sprintf("user info endpoint returned %d", resp.StatusCode), nil)
	}

	var claims map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&claims); err != nil {
		return session.UserModel{}, apperr.Environment("decoding user info", err)
	}
	id := claimString(claims[d.settings.IDClaim])
	if id == "" {
		return session.UserModel{}, fmt.Errorf("%w: user info has no %q", ErrAuthentication, d.settings.IDClaim)
	}
	user := session.NewUserModel(id)
	for k, v := range claims {
		if s, ok := v.(string); ok {
			user.Set(k, s)
		}
	}
	return user, nil
}

// claimString renders scalar claims; ids are sometimes numeric.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprint(t)
	}
	return ""
}

func newState() (string, error) {
	b, err := util.RandomBytes(stateBytes)
	if err != nil {
		return "", err
	}
	return util.HexEncode(b), nil
}
