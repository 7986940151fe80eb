package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jw6ventures/studydesk/internal/metrics"
	"github.com/jw6ventures/studydesk/internal/observer"
	"github.com/jw6ventures/studydesk/internal/prefs"
	"github.com/jw6ventures/studydesk/internal/store"
)

var (
	// ErrSignUpFailed wraps a storage failure while creating an account.
	ErrSignUpFailed = errors.New("sign up failed")
	// ErrSignInFailed wraps a storage failure while signing in.
	ErrSignInFailed = errors.New("sign in failed")
	// ErrUserNotFound means no account has the given email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is only returned when insecure local auth is off.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Options controls how credentials are checked.
type Options struct {
	// InsecureLocalAuth signs a user in by email alone and ignores the
	// password. It matches the behavior of the original single-device app
	// and is on by default until a credential policy is decided.
	InsecureLocalAuth bool
	Now               func() time.Time
}

// Service is the local identity shim: it keeps the current session user in
// memory, mirrors it to preferences, and tells subscribers about changes.
type Service struct {
	users    store.Repository[store.User]
	prefs    *prefs.Prefs
	sessions *SessionManager
	log      *zap.Logger
	opts     Options

	// transition serializes sign-in, sign-up and sign-out so subscribers see
	// session changes in the order they happened.
	transition sync.Mutex
	mu         sync.RWMutex
	current    *store.User
	observers  observer.Registry[*store.User]
}

func NewService(ctx context.Context, users store.Repository[store.User], p *prefs.Prefs, sessions *SessionManager, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InsecureLocalAuth {
		log.Warn("insecure local auth is enabled: sign-in checks the email only")
	}
	return &Service{
		users:    users,
		prefs:    p,
		sessions: sessions,
		log:      log,
		opts:     opts,
		current:  p.User(ctx),
	}
}

// SignUp creates a user and makes it the current session. Password strength
// is the caller's concern.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (*store.User, error) {
	user, err := s.signUp(ctx, email, password, name)
	metrics.AuthEvent("signup", err)
	return user, err
}

func (s *Service) signUp(ctx context.Context, email, password, name string) (*store.User, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	now := s.opts.Now()
	user := store.User{
		ID:        uuid.NewString(),
		Email:     strings.TrimSpace(email),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		LastLogin: now,
	}
	if !s.opts.InsecureLocalAuth {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("%w: hash password: %w", ErrSignUpFailed, err)
		}
		user.PasswordHash = string(hash)
	}

	if _, err := s.users.Put(ctx, user); err != nil {
		s.log.Error("sign up", zap.String("email", user.Email), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSignUpFailed, err)
	}
	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return s.startSession(ctx, user), nil
}

// SignIn finds the first user with the given email and makes it current.
func (s *Service) SignIn(ctx context.Context, email, password string) (*store.User, error) {
	user, err := s.signIn(ctx, email, password)
	metrics.AuthEvent("signin", err)
	return user, err
}

func (s *Service) signIn(ctx context.Context, email, password string) (*store.User, error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	users, err := s.users.List(ctx)
	if err != nil {
		s.log.Error("sign in: list users", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	email = strings.TrimSpace(email)
	var user *store.User
	for i := range users {
		if users[i].Email == email {
			user = &users[i]
			break
		}
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !s.opts.InsecureLocalAuth {
		if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return nil, ErrInvalidCredentials
		}
	}

	user.LastLogin = s.opts.Now()
	if _, err := s.users.Put(ctx, *user); err != nil {
		s.log.Error("sign in: update last login", zap.String("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	s.log.Info("user signed in", zap.String("user_id", user.ID))
	return s.startSession(ctx, *user), nil
}

// startSession must be called with s.transition held. A failed save only
// loses the session across restarts, so it is logged and the sign-in stands.
func (s *Service) startSession(ctx context.Context, user store.User) *store.User {
	user.PasswordHash = ""
	if err := s.prefs.SetUser(ctx, &user); err != nil {
		s.log.Warn("persist session user", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err := s.prefs.SetLastLogin(ctx, user.LastLogin); err != nil {
		s.log.Warn("persist last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.mu.Lock()
	s.current = &user
	s.mu.Unlock()

	out := user
	s.observers.Publish(&out)
	return &user
}

// SignOut forgets the current user. Subscribers receive nil.
func (s *Service) SignOut(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	err := s.prefs.SetUser(ctx, nil)
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.observers.Publish(nil)
	metrics.AuthEvent("signout", err)
	return err
}

// CurrentUser returns a copy of the session user, or nil.
func (s *Service) CurrentUser() *store.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	u := *s.current
	return &u
}

func (s *Service) IsAuthenticated() bool {
	return s.CurrentUser() != nil
}

// Subscribe registers fn for every session change.
func (s *Service) Subscribe(fn func(*store.User)) (unsubscribe func()) {
	return s.observers.Subscribe(fn)
}

// Sessions returns the cookie manager used by RequireSession.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// RequireSession admits a request only when its cookie names the current
// session user, and puts that user in the request context.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessions.CurrentUserID(r)
		user := s.CurrentUser()
		if !ok || user == nil || user.ID != id {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
