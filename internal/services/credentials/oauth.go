package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Google OAuth token endpoint
const googleTokenURL = "https://oauth2.googleapis.com/token"

// Token is the result of a refresh_token grant.
type Token struct {
	AccessToken string
	// ExpiresIn is the lifetime in seconds.
	ExpiresIn int64
}

// Refresher exchanges a refresh token for a new access token. Failures with
// an upstream response are reported as *models.CredentialError.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// OAuthRefresher runs the refresh_token grant through golang.org/x/oauth2.
type OAuthRefresher struct {
	config     oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthRefresher creates a refresher for the given client credentials.
// A nil httpClient gets a 30s timeout client.
func NewOAuthRefresher(httpClient *http.Client, clientID, clientSecret string) *OAuthRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthRefresher{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  googleTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Refresh implements Refresher.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, &models.CredentialError{Message: "refresh token is empty", Status: http.StatusBadRequest}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Token{}, refreshError(err)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(r.now()).Seconds())
	}
	return Token{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}

// refreshError maps an oauth2 failure onto a CredentialError carrying the HTTP status.
func refreshError(err error) error {
	credErr := &models.CredentialError{Message: "failed to refresh token", Err: err}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			credErr.Status = retrieveErr.Response.StatusCode
		}
		switch {
		case retrieveErr.ErrorDescription != "":
			credErr.Message = retrieveErr.ErrorDescription
		case retrieveErr.ErrorCode != "":
			credErr.Message = retrieveErr.ErrorCode
		case len(retrieveErr.Body) > 0:
			credErr.Message = fmt.Sprintf("token refresh failed: %s", truncate(string(retrieveErr.Body), 200))
		}
	}
	return credErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
