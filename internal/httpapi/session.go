package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "kcommit_session"

// session binds a browser cookie to a GitHub login.
type session struct {
	Username  string
	ExpiresAt time.Time
}

// sessionStore is an in-memory token table. Sessions are cheap to lose;
// a restart just sends users back through OAuth.
type sessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	byID map[string]session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &sessionStore{ttl: ttl, byID: map[string]session{}}
}

func (s *sessionStore) create(username string) (id string, expires time.Time) {
	id = uuid.NewString()
	expires = time.Now().Add(s.ttl)
	s.mu.Lock()
	s.byID[id] = session{Username: username, ExpiresAt: expires}
	s.mu.Unlock()
	return id, expires
}

func (s *sessionStore) lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return "", false
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(s.byID, id)
		return "", false
	}
	return sess.Username, true
}

func (s *sessionStore) revoke(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// sweep drops expired entries. Called from the server's janitor loop.
func (s *sessionStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	for id, sess := range s.byID {
		if now.After(sess.ExpiresAt) {
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
}

func (srv *Server) setSessionCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   srv.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (srv *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   srv.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentUser resolves the request's session cookie to a username.
func (srv *Server) currentUser(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return srv.sessions.lookup(c.Value)
}

// stateStore tracks outstanding OAuth state tokens. Entries expire fast;
// the round trip to GitHub takes seconds, not minutes.
type stateStore struct {
	mu   sync.Mutex
	byID map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{byID: map[string]time.Time{}}
}

func (s *stateStore) issue() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.byID[id] = time.Now().Add(10 * time.Minute)
	s.mu.Unlock()
	return id
}

// consume validates and burns a state token in one step.
func (s *stateStore) consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	return time.Now().Before(exp)
}

func (s *stateStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	for id, exp := range s.byID {
		if now.After(exp) {
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
}
