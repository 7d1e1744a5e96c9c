package models

import "time"

// PoolEventType names a credential lifecycle event.
type PoolEventType string

const (
	PoolEventDisabled      PoolEventType = "disabled"
	PoolEventExhausted     PoolEventType = "exhausted"
	PoolEventRestored      PoolEventType = "restored"
	PoolEventRefreshed     PoolEventType = "refreshed"
	PoolEventRefreshFailed PoolEventType = "refresh_failed"
	PoolEventReloaded      PoolEventType = "reloaded"
)

// PoolEvent is one credential lifecycle change, kept for the monitor and the event log.
type PoolEvent struct {
	Timestamp    time.Time     `json:"timestamp"`
	CredentialID string        `json:"credentialId"`
	Detail       string        `json:"detail,omitempty"`
	Type         PoolEventType `json:"type"`
	ID           int64         `json:"id,omitempty"`
}
