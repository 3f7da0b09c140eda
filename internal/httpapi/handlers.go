package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"kcommit/internal/github"
	"kcommit/internal/schedule"
	"kcommit/internal/storage"
	logx "kcommit/pkg/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "kcommit",
		"login":   "/api/github/login",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin starts the OAuth dance: issue a state token and bounce the
// browser to GitHub's authorize page.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := s.states.issue()
	q := url.Values{}
	q.Set("client_id", s.gh.ClientID())
	q.Set("redirect_uri", strings.TrimRight(s.cfg.BaseURL, "/")+"/api/github/callback")
	q.Set("scope", "repo")
	q.Set("state", state)
	http.Redirect(w, r, s.gh.AuthorizeURL()+"?"+q.Encode(), http.StatusFound)
}

// handleCallback finishes OAuth: verify state, trade the code for a
// token, persist the user, and hand the browser a session cookie. Repo
// binding and scheduling happen later via /api/create-repository, unless
// the user already has a bound repo, in which case their plan is ensured
// here.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.states.consume(r.URL.Query().Get("state")) {
		writeErr(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeErr(w, http.StatusBadRequest, "missing code")
		return
	}

	token, err := s.gh.ExchangeOAuthCode(ctx, code)
	if err != nil {
		s.log.Warn("oauth exchange failed", logx.Err(err))
		writeErr(w, http.StatusBadGateway, "oauth exchange failed")
		return
	}
	ghUser, err := s.gh.GetUser(ctx, token)
	if err != nil {
		s.log.Warn("identity lookup failed", logx.Err(err))
		writeErr(w, http.StatusBadGateway, "identity lookup failed")
		return
	}

	// Empty RepoName keeps any existing binding; a returning user's repo
	// survives a token refresh.
	if err := s.store.UpsertUser(ctx, storage.User{Username: ghUser.Login, Token: token}); err != nil {
		s.log.Error("user persist failed", logx.String("user", ghUser.Login), logx.Err(err))
		writeErr(w, http.StatusInternalServerError, "persist failed")
		return
	}

	if u, ok, err := s.store.GetUser(ctx, ghUser.Login); err == nil && ok && u.RepoName != "" {
		t := schedule.Target{Username: u.Username, Token: token, RepoName: u.RepoName}
		s.sched.EnsureDailyTrigger(ctx, t)
		if s.sched.ScheduledCommitCount(u.Username) == 0 {
			if _, perr := s.sched.PlanToday(ctx, t); perr != nil {
				s.log.Warn("post-login replan failed", logx.String("user", u.Username), logx.Err(perr))
			}
		}
	}

	id, expires := s.sessions.create(ghUser.Login)
	s.setSessionCookie(w, id, expires)
	s.log.Info("user authenticated", logx.String("user", ghUser.Login))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r)
	u, ok, err := s.store.GetUser(r.Context(), username)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":     u.Username,
		"repo_name":    u.RepoName,
		"default_repo": s.cfg.DefaultRepo,
	})
}

type createRepoRequest struct {
	Name string `json:"name"`
}

// handleCreateRepository provisions the automation repo, installs its
// push webhook, binds it to the user, and lays down today's plan. A name
// collision comes back 409 with alternatives.
func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := usernameFrom(r)

	var req createRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = s.cfg.DefaultRepo
	}

	u, ok, err := s.store.GetUser(ctx, username)
	if err != nil || !ok || u.Token == "" {
		writeErr(w, http.StatusUnauthorized, "no token on file")
		return
	}

	repo, err := s.gh.CreateRepository(ctx, u.Token, name)
	if err != nil {
		if errors.Is(err, github.ErrRepoExists) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":       "repository name already exists",
				"suggestions": github.SuggestRepoNames(name),
			})
			return
		}
		if errors.Is(err, github.ErrUnauthorized) {
			writeErr(w, http.StatusUnauthorized, "token rejected; sign in again")
			return
		}
		s.log.Error("repo create failed", logx.String("user", username), logx.Err(err))
		writeErr(w, http.StatusBadGateway, "repository create failed")
		return
	}

	secret := newWebhookSecret()
	hookURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/github/webhook"
	if err := s.gh.CreateWebhook(ctx, u.Token, username, repo.Name, hookURL, secret); err != nil {
		// The repo exists either way; a missing webhook only loses push
		// notifications, so log and keep going.
		s.log.Warn("webhook install failed", logx.String("user", username), logx.Err(err))
		secret = ""
	}

	if err := s.store.UpsertUser(ctx, storage.User{Username: username, Token: u.Token, RepoName: repo.Name}); err != nil {
		writeErr(w, http.StatusInternalServerError, "persist failed")
		return
	}
	if secret != "" {
		if err := s.store.SetWebhookSecret(ctx, username, repo.Name, secret); err != nil {
			s.log.Warn("webhook secret persist failed", logx.String("user", username), logx.Err(err))
		}
	}

	t := schedule.Target{Username: username, Token: u.Token, RepoName: repo.Name}
	if err := s.sched.Onboard(ctx, t); err != nil {
		s.log.Error("onboard failed", logx.String("user", username), logx.Err(err))
	}

	// Seed the fresh repo so the user sees activity immediately instead of
	// waiting for the first scheduled fire.
	message := "Initial commit from Auto Commit App"
	if sha, commitURL, err := s.gh.MakeCommit(ctx, u.Token, username, repo.Name, message); err != nil {
		s.log.Warn("initial commit failed", logx.String("user", username), logx.Err(err))
	} else if err := s.store.RecordCommit(ctx, storage.CommitRecord{
		Username: username,
		RepoName: repo.Name,
		SHA:      sha,
		Message:  message,
		URL:      commitURL,
	}); err != nil {
		s.log.Warn("initial commit not recorded", logx.String("user", username), logx.Err(err))
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"name":      repo.Name,
		"full_name": repo.FullName,
		"html_url":  repo.HTMLURL,
		"private":   repo.Private,
	})
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := usernameFrom(r)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	u, ok, err := s.store.GetUser(ctx, username)
	if err != nil || !ok {
		writeErr(w, http.StatusNotFound, "unknown user")
		return
	}

	commits, err := s.store.ListCommits(ctx, username, u.RepoName, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "history lookup failed")
		return
	}
	if commits == nil {
		commits = []storage.CommitRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.sched.Status(r.Context(), usernameFrom(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.revoke(c.Value)
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
