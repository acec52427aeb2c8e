// Package store persists chat accounts and their posting credentials in a
// single sqlite table.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/deylak/chirpgram/internal/store/models"
)

var (
	// ErrNotFound is returned when no account exists for a chat identity.
	ErrNotFound = errors.New("account not found")
	// ErrSessionNotFound is returned when a callback's state does not match
	// any pending authorization for the chat identity.
	ErrSessionNotFound = errors.New("authorization session not found")
)

// LinkStatus is the resolved posting-link state of an account, after the
// lazy expiry check has run.
type LinkStatus int

const (
	StatusNotLinked LinkStatus = iota
	StatusLinked
	StatusExpired // was linked, credential expired on this read
)

// Store wraps the account table. All methods re-check the connection first
// and reopen it if the database has gone away since the last call.
type Store struct {
	mu   sync.Mutex
	db   *gorm.DB
	path string
	log  *zap.Logger

	now func() time.Time // overridable in tests
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, path: path, log: log, now: time.Now}, nil
}

// handle returns a usable gorm handle, reconnecting if the connection is
// dead. Reconnect-on-demand is checked before every account operation.
func (s *Store) handle() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err == nil && sqlDB.Ping() == nil {
		return s.db, nil
	}

	s.log.Warn("store connection lost, reopening", zap.String("path", s.path))
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("reopen database: %w", err)
	}
	s.db = db
	return s.db, nil
}

// FindByChatID looks up the account for a chat identity.
func (s *Store) FindByChatID(chatID int64) (*models.Account, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var acc models.Account
	if err := db.Where("chat_id = ?", chatID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acc, nil
}

// Create inserts a new unlinked account. A racing duplicate insert is treated
// as "already exists": the existing row is fetched and returned instead of
// surfacing the unique-constraint violation.
func (s *Store) Create(chatID int64, chatHandle string) (*models.Account, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	now := s.now()
	acc := models.Account{
		ChatID:         chatID,
		ChatHandle:     chatHandle,
		JoinedAt:       now,
		LastActivityAt: now,
	}
	if err := db.Create(&acc).Error; err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			s.log.Info("account already exists, refetching", zap.Int64("chat_id", chatID))
			return s.FindByChatID(chatID)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &acc, nil
}

// FindOrCreate returns the account for chatID, creating it on first contact.
func (s *Store) FindOrCreate(chatID int64, chatHandle string) (*models.Account, error) {
	acc, err := s.FindByChatID(chatID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.Create(chatID, chatHandle)
}

// SetPendingAuthorization stores the correlation pair for an in-flight
// handshake, replacing any earlier pending pair. Only the most recent
// /connect per account is honorable.
func (s *Store) SetPendingAuthorization(chatID int64, state, verifier string) error {
	return s.update(chatID, map[string]any{
		"pending_state":    state,
		"pending_verifier": verifier,
		"last_activity_at": s.now(),
	})
}

// FindByPendingState correlates an inbound callback back to the account that
// initiated it. The lookup is scoped by both chat identity and state so a
// guessed state cannot complete another chat's handshake.
func (s *Store) FindByPendingState(chatID int64, state string) (*models.Account, error) {
	if state == "" {
		return nil, ErrSessionNotFound
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var acc models.Account
	err = db.Where("chat_id = ? AND pending_state = ?", chatID, state).First(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find pending authorization: %w", err)
	}
	return &acc, nil
}

// CompleteLink stores freshly exchanged credentials and clears the pending
// pair in the same write that flips the account to linked.
func (s *Store) CompleteLink(chatID int64, handle, accessToken, refreshToken string, expiresAt time.Time) error {
	fields := map[string]any{
		"posting_handle":   strings.ToLower(handle),
		"access_token":     accessToken,
		"refresh_token":    refreshToken,
		"token_expires_at": expiresAt,
		"linked":           true,
		"pending_state":    "",
		"pending_verifier": "",
		"last_activity_at": s.now(),
	}
	// A token response without an expiry yields a zero time; store it as
	// absent so the credential is not treated as instantly expired.
	if expiresAt.IsZero() {
		fields["token_expires_at"] = nil
	}
	return s.update(chatID, fields)
}

// Unlink clears all credentials and the posting handle.
func (s *Store) Unlink(chatID int64) error {
	return s.update(chatID, map[string]any{
		"access_token":     "",
		"refresh_token":    "",
		"token_expires_at": nil,
		"posting_handle":   "",
		"linked":           false,
		"last_activity_at": s.now(),
	})
}

// TouchActivity stamps lastActivityAt after a successfully handled
// interaction.
func (s *Store) TouchActivity(chatID int64) error {
	return s.update(chatID, map[string]any{"last_activity_at": s.now()})
}

// ResolveLinkStatus returns the current link status, lazily unlinking the
// account when its credential has expired. Every handler that needs a linked
// account goes through this instead of checking expiry itself.
func (s *Store) ResolveLinkStatus(acc *models.Account) (LinkStatus, error) {
	if !acc.Linked {
		return StatusNotLinked, nil
	}
	if acc.CredentialExpired(s.now()) {
		if err := s.update(acc.ChatID, map[string]any{
			"access_token":     "",
			"refresh_token":    "",
			"token_expires_at": nil,
			"linked":           false,
		}); err != nil {
			return StatusNotLinked, err
		}
		acc.Linked = false
		acc.AccessToken = ""
		acc.RefreshToken = ""
		acc.TokenExpiresAt = nil
		s.log.Info("credential expired, account unlinked", zap.Int64("chat_id", acc.ChatID))
		return StatusExpired, nil
	}
	return StatusLinked, nil
}

func (s *Store) update(chatID int64, fields map[string]any) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res := db.Model(&models.Account{}).Where("chat_id = ?", chatID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
