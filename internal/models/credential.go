// Package models defines data structures and domain types.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is one rotating upstream account (OAuth token pair).
// Secret fields never leave the core; use View for anything outward facing.
type Credential struct {
	// ID is the salted hash of the refresh token. Derived, never persisted.
	ID string `json:"-"`
	// SessionID is assigned per process on pool initialization.
	SessionID string `json:"-"`
	// Availability tracks group-scoped exhaustion in memory.
	Availability Availability `json:"-"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ProjectID    string `json:"projectId,omitempty"`
	Email        string `json:"email,omitempty"`
	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
	// Timestamp is the Unix millisecond time of the last token refresh.
	Timestamp int64 `json:"timestamp"`
	Enable    bool  `json:"enable"`
	HasQuota  bool  `json:"hasQuota"`
}

// rawCredential accepts the looser shapes found in hand-edited stores:
// missing booleans default to true and timestamps may be ISO strings.
type rawCredential struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ProjectID    string          `json:"projectId"`
	Email        string          `json:"email"`
	ExpiresIn    int64           `json:"expires_in"`
	Timestamp    json.RawMessage `json:"timestamp"`
	Enable       *bool           `json:"enable"`
	HasQuota     *bool           `json:"hasQuota"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw rawCredential
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse credential: %w", err)
	}

	*c = Credential{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		ProjectID:    raw.ProjectID,
		Email:        raw.Email,
		ExpiresIn:    raw.ExpiresIn,
		Enable:       raw.Enable == nil || *raw.Enable,
		HasQuota:     raw.HasQuota == nil || *raw.HasQuota,
	}
	if len(raw.Timestamp) > 0 {
		if t := parseTimeField(raw.Timestamp); !t.IsZero() {
			c.Timestamp = t.UnixMilli()
		}
	}
	if !c.HasQuota {
		c.Availability = Exhausted("")
	}
	return nil
}

// ExpiresAt returns the access-token expiry, or the zero time if unknown.
func (c *Credential) ExpiresAt() time.Time {
	if c.Timestamp == 0 || c.ExpiresIn == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.Timestamp).Add(time.Duration(c.ExpiresIn) * time.Second)
}

// IsExpired reports whether the access token is expired, or will be within buffer.
func (c *Credential) IsExpired(now time.Time, buffer time.Duration) bool {
	expiresAt := c.ExpiresAt()
	if expiresAt.IsZero() {
		return true
	}
	return !now.Before(expiresAt.Add(-buffer))
}

// TokenSuffix returns the last 8 characters of the access token for log lines.
func (c *Credential) TokenSuffix() string {
	if len(c.AccessToken) <= 8 {
		return "unknown"
	}
	return c.AccessToken[len(c.AccessToken)-8:]
}

// Clone returns a copy of the credential.
func (c *Credential) Clone() Credential {
	return *c
}

// View returns the secret-free representation of the credential.
func (c *Credential) View() CredentialView {
	return CredentialView{
		ID:           c.ID,
		Email:        c.Email,
		ProjectID:    c.ProjectID,
		ExpiresIn:    c.ExpiresIn,
		Timestamp:    c.Timestamp,
		ExpiresAt:    c.ExpiresAt(),
		Enable:       c.Enable,
		HasQuota:     c.HasQuota,
		Availability: c.Availability.String(),
	}
}

// CredentialView is a credential as reported to admin clients.
type CredentialView struct {
	ExpiresAt    time.Time `json:"expiresAt"`
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	ProjectID    string    `json:"projectId,omitempty"`
	Availability string    `json:"availability"`
	ExpiresIn    int64     `json:"expires_in"`
	Timestamp    int64     `json:"timestamp"`
	Enable       bool      `json:"enable"`
	HasQuota     bool      `json:"hasQuota"`
}

// CredentialPatch holds the admin-editable fields. Nil fields are left unchanged.
type CredentialPatch struct {
	Enable    *bool   `json:"enable,omitempty"`
	HasQuota  *bool   `json:"hasQuota,omitempty"`
	ProjectID *string `json:"projectId,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// Apply writes the non-nil patch fields onto c.
func (p CredentialPatch) Apply(c *Credential) {
	if p.Enable != nil {
		c.Enable = *p.Enable
	}
	if p.HasQuota != nil {
		c.HasQuota = *p.HasQuota
		if c.HasQuota {
			c.Availability = Available()
		} else {
			c.Availability = Exhausted("")
		}
	}
	if p.ProjectID != nil {
		c.ProjectID = *p.ProjectID
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
}

// parseTimeField attempts to parse a JSON time value as either ISO string or Unix timestamp.
func parseTimeField(data json.RawMessage) time.Time {
	var strVal string
	if err := json.Unmarshal(data, &strVal); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strVal); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05.000Z", strVal); err == nil {
			return t
		}
		return time.Time{}
	}

	var numVal float64
	if err := json.Unmarshal(data, &numVal); err == nil && numVal > 0 {
		if numVal > 1e12 {
			return time.UnixMilli(int64(numVal))
		}
		return time.Unix(int64(numVal), 0)
	}

	return time.Time{}
}
