// Package bot parses inbound chat messages and routes them to command
// handlers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	authx "github.com/deylak/chirpgram/internal/auth/x"
	"github.com/deylak/chirpgram/internal/logging"
	"github.com/deylak/chirpgram/internal/poster"
	"github.com/deylak/chirpgram/internal/store"
	"github.com/deylak/chirpgram/internal/store/models"
)

// ChatSender delivers replies to the chat platform.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Linker runs the two halves of the account-linking handshake.
type Linker interface {
	BeginAuthorization(acc *models.Account) (authx.Authorization, error)
	CompleteAuthorization(ctx context.Context, chatID int64, code, state string) (authx.LinkResult, error)
}

// Poster publishes a post under a stored credential.
type Poster interface {
	CreatePost(ctx context.Context, accessToken, text string) (string, error)
}

// Composer turns free text into a post draft.
type Composer interface {
	Transform(ctx context.Context, freeText string) (string, error)
}

// Accounts is the slice of the account store the dispatcher needs.
type Accounts interface {
	FindByChatID(chatID int64) (*models.Account, error)
	FindOrCreate(chatID int64, chatHandle string) (*models.Account, error)
	ResolveLinkStatus(acc *models.Account) (store.LinkStatus, error)
	Unlink(chatID int64) error
	TouchActivity(chatID int64) error
}

// Dispatcher classifies inbound messages and runs the matching handler.
// Every dependency is passed in explicitly so each is swappable in tests.
type Dispatcher struct {
	chat     ChatSender
	accounts Accounts
	linker   Linker
	poster   Poster
	composer Composer
	log      *zap.Logger
}

func NewDispatcher(chat ChatSender, accounts Accounts, linker Linker, p Poster, composer Composer, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		chat:     chat,
		accounts: accounts,
		linker:   linker,
		poster:   p,
		composer: composer,
		log:      log,
	}
}

const (
	replyStart = "Hi! I post to your X account for you.\n\n" +
		"/connect — link your X account\n" +
		"/post <text> — publish a post\n" +
		"Send me any other text and I'll turn it into a post draft.\n\n" +
		"/help shows the full command list."

	replyHelp = "Commands:\n" +
		"/start — what this bot does\n" +
		"/connect — link your X account\n" +
		"/post <text> — publish a post (280 characters max)\n" +
		"/state — show your link status\n" +
		"/disconnect — unlink your account\n" +
		"/help — this list"

	replyUnknownCommand = "Unknown command. Send /help for the command list."
	replyNotConnected   = "You're not connected. Send /connect to link your X account."
	replyNoAccount      = "No account found. Send /connect to get started."
	replyExpired        = "Your session expired. Send /connect to re-authorize."
	replyUnavailable    = "Temporarily unavailable, please try again."
	replyPostUsage      = "Usage: /post <text>"
	replyBadCallback    = "That link is missing the code or state parameter. Please copy the full URL from your browser."
	replySessionGone    = "Authorization session not found. Send /connect to start a new one."
	replyLinkFailed     = "Couldn't finish linking your account. Send /connect to try again."
)

// HandleUpdate processes one webhook event end to end. It never returns an
// error: failures are logged and turned into a short user-facing reply, so
// one bad event cannot affect the intake of the next.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd *Update) {
	if upd == nil || upd.Message == nil || upd.Message.Text == "" {
		return
	}
	msg := upd.Message
	chatID := msg.Chat.ID

	log := d.log.With(
		zap.String("request_id", logging.RequestID(ctx)),
		zap.Int64("chat_id", chatID),
		zap.Int64("update_id", upd.UpdateID),
	)

	in := Classify(msg.Text)

	var reply string
	var err error
	switch in.Kind {
	case KindCommand:
		reply, err = d.handleCommand(ctx, msg, in)
	case KindCallbackURL:
		reply, err = d.handleCallback(ctx, chatID, in)
	case KindFreeText:
		reply, err = d.handleFreeText(ctx, in.Raw)
	}

	if err != nil {
		log.Error("handler failed", zap.Error(err))
		if reply == "" {
			reply = replyUnavailable
		}
	}
	if reply == "" {
		return
	}
	if err := d.chat.SendMessage(ctx, chatID, reply); err != nil {
		log.Error("reply delivery failed", zap.Error(err))
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *Message, in Input) (string, error) {
	switch in.Command {
	case "start":
		return replyStart, nil
	case "help":
		return replyHelp, nil
	case "connect":
		return d.handleConnect(msg)
	case "post":
		return d.handlePost(ctx, msg.Chat.ID, in.Args)
	case "state":
		return d.handleState(msg.Chat.ID)
	case "disconnect":
		return d.handleDisconnect(msg.Chat.ID)
	default:
		return replyUnknownCommand, nil
	}
}

func (d *Dispatcher) handleConnect(msg *Message) (string, error) {
	chatHandle := ""
	if msg.From != nil {
		chatHandle = msg.From.Username
	}
	acc, err := d.accounts.FindOrCreate(msg.Chat.ID, chatHandle)
	if err != nil {
		return "", err
	}

	status, err := d.accounts.ResolveLinkStatus(acc)
	if err != nil {
		return "", err
	}
	if status == store.StatusLinked {
		return fmt.Sprintf("Already connected as @%s. Send /disconnect first if you want to relink.", acc.PostingHandle), nil
	}

	auth, err := d.linker.BeginAuthorization(acc)
	if err != nil {
		return "", err
	}
	return "Open this link in your browser to authorize:\n" + auth.URL +
		"\n\nWhen you land on the confirmation page, copy its full URL and paste it back here.", nil
}

func (d *Dispatcher) handlePost(ctx context.Context, chatID int64, text string) (string, error) {
	if text == "" {
		return replyPostUsage, nil
	}

	acc, err := d.accounts.FindByChatID(chatID)
	if errors.Is(err, store.ErrNotFound) {
		return replyNotConnected, nil
	}
	if err != nil {
		return "", err
	}

	status, err := d.accounts.ResolveLinkStatus(acc)
	if err != nil {
		return "", err
	}
	switch status {
	case store.StatusExpired:
		return replyExpired, nil
	case store.StatusNotLinked:
		return replyNotConnected, nil
	}

	// Length is validated before any network call.
	if n := utf8.RuneCountInString(text); n > poster.MaxPostLength {
		return fmt.Sprintf("Too long: %d characters, the limit is %d.", n, poster.MaxPostLength), nil
	}

	postID, err := d.poster.CreatePost(ctx, acc.AccessToken, text)
	if err != nil {
		return "", err
	}
	if err := d.accounts.TouchActivity(chatID); err != nil {
		d.log.Warn("activity stamp failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return fmt.Sprintf("Posted to @%s (id %s).", acc.PostingHandle, postID), nil
}

func (d *Dispatcher) handleState(chatID int64) (string, error) {
	acc, err := d.accounts.FindByChatID(chatID)
	if errors.Is(err, store.ErrNotFound) {
		return replyNoAccount, nil
	}
	if err != nil {
		return "", err
	}

	status, err := d.accounts.ResolveLinkStatus(acc)
	if err != nil {
		return "", err
	}

	var head string
	switch status {
	case store.StatusLinked:
		head = fmt.Sprintf("Connected as @%s.", acc.PostingHandle)
	case store.StatusExpired:
		head = replyExpired
	default:
		head = replyNotConnected
	}

	reply := fmt.Sprintf("%s\nJoined: %s\nLast activity: %s",
		head,
		acc.JoinedAt.Format("2006-01-02 15:04"),
		acc.LastActivityAt.Format("2006-01-02 15:04"))

	if err := d.accounts.TouchActivity(chatID); err != nil {
		d.log.Warn("activity stamp failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return reply, nil
}

func (d *Dispatcher) handleDisconnect(chatID int64) (string, error) {
	acc, err := d.accounts.FindByChatID(chatID)
	if errors.Is(err, store.ErrNotFound) {
		return replyNotConnected, nil
	}
	if err != nil {
		return "", err
	}
	if !acc.Linked {
		return replyNotConnected, nil
	}
	if err := d.accounts.Unlink(chatID); err != nil {
		return "", err
	}
	return "Disconnected. Your credentials have been cleared.", nil
}

func (d *Dispatcher) handleCallback(ctx context.Context, chatID int64, in Input) (string, error) {
	if in.Code == "" || in.State == "" {
		return replyBadCallback, nil
	}

	res, err := d.linker.CompleteAuthorization(ctx, chatID, in.Code, in.State)
	if errors.Is(err, store.ErrSessionNotFound) {
		return replySessionGone, nil
	}
	if err != nil {
		// The pending handshake stays in place; the user may resubmit.
		return replyLinkFailed, err
	}
	return fmt.Sprintf("Connected as @%s. You can now /post.", res.Handle), nil
}

func (d *Dispatcher) handleFreeText(ctx context.Context, text string) (string, error) {
	draft, err := d.composer.Transform(ctx, text)
	if err != nil {
		return "", err
	}
	return draft, nil
}
