package models

import "time"

// Account links one chat identity to an optional posting identity and its
// OAuth2 credentials. One row per chat user; rows are never hard-deleted.
type Account struct {
	ID         uint  `gorm:"primaryKey;autoIncrement"`
	ChatID     int64 `gorm:"uniqueIndex;not null"` // chat-platform user id, set once
	ChatHandle string

	// PostingHandle is the linked posting-platform handle, lowercase,
	// set only after a successful authorization exchange.
	PostingHandle string

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time

	// Linked is true while AccessToken is present and not past expiry.
	Linked bool `gorm:"default:false"`

	// PendingState and PendingVerifier carry the in-flight OAuth2
	// handshake. Empty PendingState means no handshake is pending; both
	// columns are blanked together when a handshake completes or is
	// abandoned.
	PendingState    string `gorm:"index"`
	PendingVerifier string

	LastActivityAt time.Time
	JoinedAt       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPendingAuthorization reports whether an OAuth2 handshake is in flight.
func (a *Account) HasPendingAuthorization() bool {
	return a.PendingState != ""
}

// CredentialExpired reports whether the stored credential is past its expiry.
// A missing expiry never counts as expired.
func (a *Account) CredentialExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && a.TokenExpiresAt.Before(now)
}
