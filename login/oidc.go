package login

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/session"
)

// standardClaims are copied from the ID token into the user model.
var standardClaims = []string{
	"sub", "name", "given_name", "family_name", "middle_name", "nickname",
	"preferred_username", "profile", "picture", "website", "email",
	"email_verified", "gender", "birthdate", "zoneinfo", "locale",
	"phone_number", "phone_number_verified", "updated_at",
}

// OIDCDriver runs the authorization code flow and takes the user from the
// verified ID token. The login state doubles as the nonce.
type OIDCDriver struct {
	*OAuth2Driver
	verifier *oidc.IDTokenVerifier
}

var _ Driver = (*OIDCDriver)(nil)

// NewOIDCDriver validates settings and prepares the ID token verifier. Keys
// are fetched from jwksEndpoint lazily, on first verification.
func NewOIDCDriver(ctx context.Context, name string, s config.LoginProviderSettings, client *http.Client) (*OIDCDriver, error) {
	problems := settingsProblems(s)
	if len(s.Scopes) > 0 && !slices.Contains(s.Scopes, oidc.ScopeOpenID) {
		problems = append(problems, "scopes must contain 'openid'")
	}
	if s.Issuer == "" {
		problems = append(problems, "issuer missing")
	}
	if !absoluteURL(s.JWKSEndpoint) {
		problems = append(problems, "jwksEndpoint missing or not an absolute URL")
	}
	if len(problems) > 0 {
		return nil, &SettingsError{Provider: name, Problems: problems}
	}

	base := &OAuth2Driver{name: name, settings: s, client: client}
	// The key set keeps this context for its background fetches.
	keyCtx := context.WithoutCancel(ctx)
	if client != nil {
		keyCtx = oidc.ClientContext(keyCtx, client)
	}
	keys := oidc.NewRemoteKeySet(keyCtx, s.JWKSEndpoint)
	verifier := oidc.NewVerifier(s.Issuer, keys, &oidc.Config{ClientID: s.ClientID})
	return &OIDCDriver{OAuth2Driver: base, verifier: verifier}, nil
}

func (d *OIDCDriver) StartLogin(_ context.Context, callbackURL string) (string, string, error) {
	state, err := newState()
	if err != nil {
		return "", "", err
	}
	return d.oauthConfig(callbackURL).AuthCodeURL(state, oidc.Nonce(state)), state, nil
}

func (d *OIDCDriver) ProcessCallback(ctx context.Context, r *http.Request, expectedState, callbackURL string) (session.UserModel, error) {
	tok, err := d.exchange(ctx, r, expectedState, callbackURL, nil)
	if err != nil {
		return session.UserModel{}, err
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return session.UserModel{}, fmt.Errorf("%w: token response has no id_token", ErrAuthentication)
	}
	idTok, err := d.verifier.Verify(d.clientContext(ctx), raw)
	if err != nil {
		return session.UserModel{}, fmt.Errorf("%w: id token: %v", ErrAuthentication, err)
	}
	if idTok.Nonce != expectedState {
		return session.UserModel{}, fmt.Errorf("%w: nonce mismatch", ErrAuthentication)
	}

	var claims map[string]any
	if err := idTok.Claims(&claims); err != nil {
		return session.UserModel{}, fmt.Errorf("%w: id token claims: %v", ErrAuthentication, err)
	}
	user := session.NewUserModel(idTok.Subject)
	for _, name := range standardClaims {
		if v := claimString(claims[name]); v != "" {
			user.Set(name, v)
		}
	}
	return user, nil
}
