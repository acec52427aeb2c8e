package x

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/deylak/chirpgram/internal/store"
)

// fakePlatform stands in for the authorization server and the identity API.
type fakePlatform struct {
	srv *httptest.Server

	username     string
	identityFail bool

	lastCode     string
	lastVerifier string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{username: "Some_User"}
	mux := http.NewServeMux()
	mux.HandleFunc("/2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.lastCode = r.FormValue("code")
		p.lastVerifier = r.FormValue("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-for-" + p.lastCode,
			"token_type":    "Bearer",
			"refresh_token": "refresh-token",
			"expires_in":    7200,
		})
	})
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		if p.identityFail {
			http.Error(w, "who are you", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "123", "username": p.username},
		})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) config() Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:8080/oauth/callback",
		AuthURL:      p.srv.URL + "/i/oauth2/authorize",
		TokenURL:     p.srv.URL + "/2/oauth2/token",
		APIBaseURL:   p.srv.URL,
	}
}

func newTestCorrelator(t *testing.T, p *fakePlatform) (*Correlator, *store.Store) {
	t.Helper()
	accounts, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewCorrelator(accounts, p.config(), zap.NewNop()), accounts
}

func TestBeginAuthorization_PersistsPendingPair(t *testing.T) {
	p := newFakePlatform(t)
	c, accounts := newTestCorrelator(t, p)

	acc, err := accounts.Create(1, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	auth, err := c.BeginAuthorization(acc)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if auth.URL == "" || auth.State == "" || auth.Verifier == "" {
		t.Fatalf("incomplete authorization: %+v", auth)
	}

	u, err := url.Parse(auth.URL)
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != auth.State {
		t.Fatalf("URL state %q != returned state %q", q.Get("state"), auth.State)
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected S256 challenge, got %q", q.Get("code_challenge_method"))
	}
	for _, scope := range Scopes {
		if !strings.Contains(q.Get("scope"), scope) {
			t.Fatalf("scope %q missing from %q", scope, q.Get("scope"))
		}
	}

	stored, err := accounts.FindByPendingState(1, auth.State)
	if err != nil {
		t.Fatalf("pending pair not persisted: %v", err)
	}
	if stored.PendingVerifier != auth.Verifier {
		t.Fatal("verifier not persisted with state")
	}
}

func TestCompleteAuthorization_RoundTrip(t *testing.T) {
	p := newFakePlatform(t)
	c, accounts := newTestCorrelator(t, p)

	acc, _ := accounts.Create(1, "alice")
	auth, err := c.BeginAuthorization(acc)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	res, err := c.CompleteAuthorization(context.Background(), 1, "the-code", auth.State)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Handle != "some_user" {
		t.Fatalf("handle must be lowercased, got %q", res.Handle)
	}
	if p.lastCode != "the-code" {
		t.Fatalf("exchange used code %q", p.lastCode)
	}
	if p.lastVerifier != auth.Verifier {
		t.Fatalf("exchange must send the stored verifier, got %q", p.lastVerifier)
	}

	linked, err := accounts.FindByChatID(1)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !linked.Linked || linked.PostingHandle != "some_user" {
		t.Fatalf("account not linked: %+v", linked)
	}
	if linked.HasPendingAuthorization() {
		t.Fatal("pending pair must be cleared on success")
	}
	if linked.AccessToken != "access-for-the-code" {
		t.Fatalf("unexpected access token %q", linked.AccessToken)
	}
}

func TestCompleteAuthorization_UnknownState(t *testing.T) {
	p := newFakePlatform(t)
	c, accounts := newTestCorrelator(t, p)

	acc, _ := accounts.Create(1, "alice")
	if _, err := c.BeginAuthorization(acc); err != nil {
		t.Fatalf("begin: %v", err)
	}

	_, err := c.CompleteAuthorization(context.Background(), 1, "code", "guessed-state")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if p.lastCode != "" {
		t.Fatal("no exchange may happen on a state mismatch")
	}

	// No mutation: the pending handshake survives.
	reread, _ := accounts.FindByChatID(1)
	if !reread.HasPendingAuthorization() {
		t.Fatal("pending pair must remain after a rejected callback")
	}
	if reread.Linked {
		t.Fatal("account must stay unlinked")
	}
}

func TestCompleteAuthorization_SecondConnectInvalidatesFirstState(t *testing.T) {
	p := newFakePlatform(t)
	c, accounts := newTestCorrelator(t, p)

	acc, _ := accounts.Create(1, "alice")
	first, err := c.BeginAuthorization(acc)
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if _, err := c.BeginAuthorization(acc); err != nil {
		t.Fatalf("second begin: %v", err)
	}

	_, err = c.CompleteAuthorization(context.Background(), 1, "code", first.State)
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("first state must be dead after a second /connect, got %v", err)
	}
}

func TestCompleteAuthorization_IdentityFetchFails(t *testing.T) {
	p := newFakePlatform(t)
	p.identityFail = true
	c, accounts := newTestCorrelator(t, p)

	acc, _ := accounts.Create(1, "alice")
	auth, _ := c.BeginAuthorization(acc)

	if _, err := c.CompleteAuthorization(context.Background(), 1, "code", auth.State); err == nil {
		t.Fatal("expected an error when the handle cannot be read")
	}

	reread, _ := accounts.FindByChatID(1)
	if reread.Linked {
		t.Fatal("account must not be linked when the handle fetch fails")
	}
}
