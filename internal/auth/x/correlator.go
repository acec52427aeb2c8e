package x

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/deylak/chirpgram/internal/store"
	"github.com/deylak/chirpgram/internal/store/models"
)

// ErrNoHandle is returned when the identity endpoint yields no username
// after a successful code exchange. The exchange is not persisted in that
// case.
var ErrNoHandle = errors.New("could not read account handle")

// Correlator runs the two halves of the account-linking handshake: it hands
// out authorization URLs with a fresh (verifier, state) pair, and later
// validates an inbound (code, state) pair before exchanging it for tokens.
type Correlator struct {
	accounts *store.Store
	cfg      Config
	log      *zap.Logger
}

func NewCorrelator(accounts *store.Store, cfg Config, log *zap.Logger) *Correlator {
	return &Correlator{accounts: accounts, cfg: cfg, log: log}
}

// Authorization is the outcome of BeginAuthorization: the URL the user must
// open in a browser, plus the correlation pair persisted on the account.
type Authorization struct {
	URL      string
	State    string
	Verifier string
}

// LinkResult is the outcome of a completed handshake.
type LinkResult struct {
	Handle       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// BeginAuthorization generates a PKCE verifier and a state token, persists
// them on the account (replacing any earlier pending handshake), and returns
// the authorization URL.
func (c *Correlator) BeginAuthorization(acc *models.Account) (Authorization, error) {
	verifier := oauth2.GenerateVerifier()
	state := strings.ReplaceAll(uuid.NewString(), "-", "")

	url := c.cfg.OAuthConfig().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	if err := c.accounts.SetPendingAuthorization(acc.ChatID, state, verifier); err != nil {
		return Authorization{}, fmt.Errorf("persist pending authorization: %w", err)
	}
	c.log.Info("authorization started",
		zap.Int64("chat_id", acc.ChatID),
		zap.String("state", state))
	return Authorization{URL: url, State: state, Verifier: verifier}, nil
}

// CompleteAuthorization validates the inbound (code, state) pair against the
// account's pending handshake, exchanges the code with the stored verifier,
// fetches the authenticated identity's handle, and persists the credentials
// while clearing the pending pair in one write. A state that matches no
// pending handshake for this chat yields store.ErrSessionNotFound with no
// account mutation.
func (c *Correlator) CompleteAuthorization(ctx context.Context, chatID int64, code, state string) (LinkResult, error) {
	acc, err := c.accounts.FindByPendingState(chatID, state)
	if err != nil {
		return LinkResult{}, err
	}

	conf := c.cfg.OAuthConfig()
	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(acc.PendingVerifier))
	if err != nil {
		return LinkResult{}, fmt.Errorf("code exchange failed: %w", err)
	}

	handle, err := c.fetchHandle(ctx, conf, token)
	if err != nil {
		return LinkResult{}, err
	}
	handle = strings.ToLower(handle)

	if err := c.accounts.CompleteLink(chatID, handle, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		return LinkResult{}, fmt.Errorf("persist credentials: %w", err)
	}

	c.log.Info("account linked",
		zap.Int64("chat_id", chatID),
		zap.String("handle", handle),
		zap.Time("expires_at", token.Expiry))
	return LinkResult{
		Handle:       handle,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// fetchHandle reads the authenticated identity from /2/users/me.
func (c *Correlator) fetchHandle(ctx context.Context, conf *oauth2.Config, token *oauth2.Token) (string, error) {
	client := conf.Client(ctx, token)
	resp, err := client.Get(c.cfg.apiBaseURL() + "/2/users/me")
	if err != nil {
		return "", fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch identity: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode identity: %w", err)
	}
	if payload.Data.Username == "" {
		return "", ErrNoHandle
	}
	return payload.Data.Username, nil
}
