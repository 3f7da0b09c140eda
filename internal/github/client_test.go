package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "kcommit/pkg/logx"
)

func testClient(t *testing.T, api http.Handler) *Client {
	t.Helper()
	// The real GitHub API always sends a JSON content type; the stub
	// handlers rely on this wrapper so the client unmarshals their bodies.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Config{
		ClientID:     "cid",
		ClientSecret: "csecret",
		APIBase:      srv.URL,
		OAuthBase:    srv.URL,
	}, logx.Nop())
}

func TestExchangeOAuthCode(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["client_id"] != "cid" || body["code"] != "abc" {
			t.Errorf("unexpected body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123"})
	})

	c := testClient(t, mux)
	tok, err := c.ExchangeOAuthCode(context.Background(), "abc")
	if err != nil {
		t.Fatalf("ExchangeOAuthCode: %v", err)
	}
	if tok != "tok123" {
		t.Fatalf("token = %q", tok)
	}
}

func TestExchangeOAuthCodeBadCode(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
	})

	c := testClient(t, mux)
	if _, err := c.ExchangeOAuthCode(context.Background(), "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGetUser(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "alice"})
	})

	c := testClient(t, mux)
	u, err := c.GetUser(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Login != "alice" {
		t.Fatalf("Login = %q", u.Login)
	}
}

func TestGetUserUnauthorized(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Bad credentials"})
	})

	c := testClient(t, mux)
	if _, err := c.GetUser(context.Background(), "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCreateRepositoryConflict(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": "Repository creation failed.",
			"errors": []map[string]string{{
				"resource": "Repository",
				"field":    "name",
				"message":  "name already exists on this account",
			}},
		})
	})

	c := testClient(t, mux)
	_, err := c.CreateRepository(context.Background(), "tok", "daily")
	if !errors.Is(err, ErrRepoExists) {
		t.Fatalf("err = %v, want ErrRepoExists", err)
	}

	sugg := SuggestRepoNames("daily")
	if len(sugg) == 0 {
		t.Fatal("no suggestions")
	}
	for _, s := range sugg {
		if s == "daily" {
			t.Fatalf("suggestion repeats the taken name: %v", sugg)
		}
	}
}

func TestMakeCommitFullChain(t *testing.T) {
	t.Parallel()
	var refUpdated bool

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/daily", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "daily", "default_branch": "main"})
	})
	mux.HandleFunc("/repos/alice/daily/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": "head111"}})
	})
	mux.HandleFunc("/repos/alice/daily/git/commits/head111", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tree": map[string]string{"sha": "tree111"}})
	})
	mux.HandleFunc("/repos/alice/daily/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"sha": "blob111"})
	})
	mux.HandleFunc("/repos/alice/daily/git/trees", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			BaseTree string `json:"base_tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.BaseTree != "tree111" {
			t.Errorf("base_tree = %q", body.BaseTree)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sha": "tree222"})
	})
	mux.HandleFunc("/repos/alice/daily/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parents []string `json:"parents"`
			Tree    string   `json:"tree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Parents) != 1 || body.Parents[0] != "head111" {
			t.Errorf("parents = %v", body.Parents)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sha":      "commit333",
			"html_url": "https://example.test/alice/daily/commit/commit333",
		})
	})
	mux.HandleFunc("/repos/alice/daily/git/refs/heads/main", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s", r.Method)
		}
		refUpdated = true
		_ = json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": "commit333"}})
	})

	c := testClient(t, mux)
	sha, url, err := c.MakeCommit(context.Background(), "tok", "alice", "daily", "Automated commit at 2025-03-10 12:00:00")
	if err != nil {
		t.Fatalf("MakeCommit: %v", err)
	}
	if sha != "commit333" {
		t.Fatalf("sha = %q", sha)
	}
	if url == "" {
		t.Fatal("empty commit url")
	}
	if !refUpdated {
		t.Fatal("branch ref was never advanced")
	}
}
