// Package httpapi is the HTTP boundary: the webhook intake and the browser
// leg of the OAuth2 flow.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deylak/chirpgram/internal/bot"
	"github.com/deylak/chirpgram/internal/logging"
	"github.com/deylak/chirpgram/internal/version"
)

// Server owns the router and the detached webhook processing.
type Server struct {
	dispatcher *bot.Dispatcher
	log        *zap.Logger
}

func NewServer(dispatcher *bot.Dispatcher, log *zap.Logger) *Server {
	return &Server{dispatcher: dispatcher, log: log}
}

// Router builds the chi router for all public endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	r.Get("/oauth/callback", s.handleOAuthCallback)

	return r
}

// requestLogger writes one access-log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleWebhook acknowledges every delivery with 200 regardless of what
// happens downstream; the platform retransmits anything else. Processing
// runs on a detached goroutine whose panics are caught and logged, never
// awaited by the request path.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var upd bot.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.log.Warn("undecodable webhook payload", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	reqID := logging.NewRequestID()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("webhook processing panicked",
					zap.String("request_id", reqID),
					zap.Any("panic", rec))
			}
		}()
		ctx := logging.WithRequestID(context.Background(), reqID)
		s.dispatcher.HandleUpdate(ctx, &upd)
	}()

	w.WriteHeader(http.StatusOK)
}

// handleOAuthCallback is where the browser lands after the user authorizes.
// The chat session cannot receive this redirect, so the page instructs the
// user to copy the full URL back into the chat, which carries code and state
// to the dispatcher.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state parameter", http.StatusBadRequest)
		return
	}

	// Server-side r.URL has no scheme or host; rebuild the absolute URL the
	// browser is showing so the copy instruction matches it.
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	fullURL := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Almost there</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		.ok { color: #4ade80; font-size: 24px; }
		code { display: block; background: #374151; padding: 10px; border-radius: 6px; color: #fbbf24; word-break: break-all; margin: 20px 0; }
		.hint { color: #9ca3af; }
	</style>
</head>
<body>
	<div class="ok">Authorization received</div>
	<p>One last step: copy this page's full address and paste it back into the chat with the bot.</p>
	<code>%s</code>
	<p class="hint">The bot finishes linking your account from the pasted URL.</p>
</body>
</html>`, html.EscapeString(fullURL))
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
