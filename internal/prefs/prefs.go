// Package prefs stores small user-facing settings as namespaced JSON values.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/store"
)

// Prefix namespaces every key written by Prefs.
const Prefix = "studydesk_"

// Bucket is the store bucket preferences live in.
const Bucket = "preferences"

const (
	KeyTheme       = "theme"
	KeyCurrentUser = "currentUser"
	KeyLastLogin   = "lastLogin"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidTheme is returned by SetTheme for values other than light and dark.
var ErrInvalidTheme = errors.New("theme must be light or dark")

// Backend is the raw key/value storage behind Prefs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Prefs struct {
	kv  Backend
	log *zap.Logger
}

func New(kv Backend, log *zap.Logger) *Prefs {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prefs{kv: kv, log: log}
}

// Open returns preferences backed by the store's preferences bucket.
func Open(s *store.Store, log *zap.Logger) (*Prefs, error) {
	kv, err := s.KV(Bucket)
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	return New(kv, log), nil
}

// Set stores value as JSON under key.
func (p *Prefs) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		p.log.Error("encode preference", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	if err := p.kv.Set(ctx, Prefix+key, data); err != nil {
		p.log.Error("save preference", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (p *Prefs) Remove(ctx context.Context, key string) error {
	if err := p.kv.Delete(ctx, Prefix+key); err != nil {
		p.log.Error("remove preference", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("remove preference %s: %w", key, err)
	}
	return nil
}

// Get decodes key into a T. Missing or unreadable values yield def.
func Get[T any](ctx context.Context, p *Prefs, key string, def T) T {
	data, err := p.kv.Get(ctx, Prefix+key)
	if err != nil {
		p.log.Error("read preference", zap.String("key", key), zap.Error(err))
		return def
	}
	if data == nil {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		p.log.Warn("discarding unreadable preference", zap.String("key", key), zap.Error(err))
		return def
	}
	return v
}

// Theme returns the UI theme, light unless set otherwise.
func (p *Prefs) Theme(ctx context.Context) string {
	theme := Get(ctx, p, KeyTheme, ThemeLight)
	if theme != ThemeDark {
		return ThemeLight
	}
	return theme
}

func (p *Prefs) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeLight && theme != ThemeDark {
		return ErrInvalidTheme
	}
	return p.Set(ctx, KeyTheme, theme)
}

// User returns the persisted session user, or nil.
func (p *Prefs) User(ctx context.Context) *store.User {
	return Get[*store.User](ctx, p, KeyCurrentUser, nil)
}

// SetUser persists the session user. A nil user removes it.
func (p *Prefs) SetUser(ctx context.Context, u *store.User) error {
	if u == nil {
		return p.Remove(ctx, KeyCurrentUser)
	}
	return p.Set(ctx, KeyCurrentUser, u)
}

// LastLogin returns the zero time when no login has been recorded.
func (p *Prefs) LastLogin(ctx context.Context) time.Time {
	return Get(ctx, p, KeyLastLogin, time.Time{})
}

func (p *Prefs) SetLastLogin(ctx context.Context, t time.Time) error {
	return p.Set(ctx, KeyLastLogin, t)
}
