package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/database"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

const tokenBytes = 32

// UserStore persists users
type UserStore interface {
	UpsertUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// TokenStore persists login tokens
type TokenStore interface {
	CreateLoginToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ConsumeLoginTokenAndCreateSession(ctx context.Context, tokenHash string, sessionTTL time.Duration) (*models.Session, error)
}

// SessionStore persists sessions
type SessionStore interface {
	GetActiveSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// LinkMailer delivers magic links
type LinkMailer interface {
	SendMagicLink(ctx context.Context, to, link string, minutes int) error
}

// Config configures an Authenticator
type Config struct {
	BaseURL    string
	VerifyPath string
	TokenTTL   time.Duration
	SessionTTL time.Duration
}

// Authenticator issues magic links and resolves session cookies
type Authenticator struct {
	users    UserStore
	tokens   TokenStore
	sessions SessionStore
	mailer   LinkMailer
	codec    *CookieCodec
	cfg      Config
	logger   *logging.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(cfg Config, users UserStore, tokens TokenStore, sessions SessionStore, mailer LinkMailer, codec *CookieCodec, logger *logging.Logger) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 90 * 24 * time.Hour
	}
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = "/api/v1/auth/verify"
	}

	return &Authenticator{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		mailer:   mailer,
		codec:    codec,
		cfg:      cfg,
		logger:   logger,
	}
}

// SessionTTL is the lifetime of sessions created by Verify
func (a *Authenticator) SessionTTL() time.Duration {
	return a.cfg.SessionTTL
}

// RequestLogin issues a single-use token for email and mails the link. The
// result is the same whether or not the user existed before.
func (a *Authenticator) RequestLogin(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := a.users.UpsertUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	raw, hash, err := newToken()
	if err != nil {
		return err
	}

	if err := a.tokens.CreateLoginToken(ctx, user.ID, hash, time.Now().Add(a.cfg.TokenTTL)); err != nil {
		return err
	}

	link := fmt.Sprintf("%s%s?token=%s", strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.VerifyPath, url.QueryEscape(raw))
	if err := a.mailer.SendMagicLink(ctx, email, link, int(a.cfg.TokenTTL/time.Minute)); err != nil {
		a.logger.WithUserID(user.ID).ErrorWithErr("failed to send magic link", err)
	}

	return nil
}

// Verify redeems a raw token and opens a session, returning the cookie value
func (a *Authenticator) Verify(ctx context.Context, rawToken string) (string, *models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", nil, apperr.ErrInvalidOrExpiredToken
	}

	session, err := a.tokens.ConsumeLoginTokenAndCreateSession(ctx, hashToken(rawToken), a.cfg.SessionTTL)
	if errors.Is(err, database.ErrNotFound) {
		return "", nil, apperr.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", nil, err
	}

	user, err := a.users.GetUser(ctx, session.UserID)
	if err != nil {
		return "", nil, err
	}

	cookie, err := a.codec.Encode(session.ID, session.ExpiresAt)
	if err != nil {
		return "", nil, err
	}

	a.logger.WithUserID(user.ID).Info("magic link verified")
	return cookie, user, nil
}

// CurrentUser resolves a cookie value to its user. A missing, tampered or
// expired session yields (nil, nil).
func (a *Authenticator) CurrentUser(ctx context.Context, cookie string) (*models.User, error) {
	sessionID, ok := a.sessionID(cookie)
	if !ok {
		return nil, nil
	}

	session, err := a.sessions.GetActiveSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(ctx, session.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// SignOut deletes the session behind a cookie. Unknown sessions are ignored.
func (a *Authenticator) SignOut(ctx context.Context, cookie string) error {
	sessionID, ok := a.sessionID(cookie)
	if !ok {
		return nil
	}
	return a.sessions.DeleteSession(ctx, sessionID)
}

func (a *Authenticator) sessionID(cookie string) (string, bool) {
	if cookie == "" {
		return "", false
	}
	sessionID, err := a.codec.Decode(cookie)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", false
	}
	return sessionID, true
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", apperr.Validation("a valid email address is required")
	}
	return strings.ToLower(addr.Address), nil
}

// newToken returns a random URL-safe token and the hash to persist
func newToken() (raw, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate login token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
