package storage

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"taskboard/session"
)

// NewFirebaseApp initialises Firebase from a service-account file.
func NewFirebaseApp(ctx context.Context, credentialsPath string) (*firebase.App, error) {
	if credentialsPath == "" {
		return nil, errors.New("firebase credentials path is empty")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("init firebase: %w", err)
	}
	return app, nil
}

// FirebaseVerifier checks Firebase Auth ID tokens.
type FirebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) VerifyToken(ctx context.Context, token string) (session.User, error) {
	tok, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return session.User{}, err
	}
	return userFromClaims(tok.UID, tok.Claims), nil
}

func userFromClaims(uid string, claims map[string]interface{}) session.User {
	u := session.User{ID: uid}
	u.Email, _ = claims["email"].(string)
	u.Name, _ = claims["name"].(string)
	return u
}
