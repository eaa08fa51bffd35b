package appliance

import (
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// SessionState is the client's belief about the appliance session.
type SessionState struct {
	Token           string
	LastValidatedAt time.Time
	PresumedExpired bool
}

// Session tracks whether the current server session and token are presumed
// valid. It also serves as the cookie jar for the client, so Invalidate
// discards the server session cookie along with the token and the next
// extraction starts a fresh session. There is no persistence.
type Session struct {
	mu            sync.RWMutex
	state         SessionState
	jar           *cookiejar.Jar
	invalidations int
	logger        *slog.Logger

	// nowFunc returns the current time. Tests override it.
	nowFunc func() time.Time
}

// NewSession creates a session presumed valid with no token recorded.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		jar:     newJar(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

func newJar() *cookiejar.Jar {
	// cookiejar.New never returns a non-nil error.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		panic("appliance: creating cookie jar: " + err.Error())
	}

	return jar
}

// IsPresumedValid reports whether no session failure has been seen since the
// last successful submission.
func (s *Session) IsPresumedValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.state.PresumedExpired
}

// Invalidate marks the session expired, forgets the token, and drops all
// session cookies.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.state.PresumedExpired = true
	s.state.Token = ""
	s.jar = newJar()
	s.invalidations++
	n := s.invalidations
	s.mu.Unlock()

	s.logger.Info("session invalidated", slog.Int("invalidations", n))
}

// RecordSuccess stores the token that just produced an accepted submission
// and marks the session valid.
func (s *Session) RecordSuccess(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Token = token
	s.state.LastValidatedAt = s.nowFunc()
	s.state.PresumedExpired = false
}

// State returns a snapshot of the session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Invalidations returns how many times Invalidate has run.
func (s *Session) Invalidations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.invalidations
}

// SetCookies implements http.CookieJar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()

	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()

	return jar.Cookies(u)
}
