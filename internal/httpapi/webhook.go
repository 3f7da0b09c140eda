package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"kcommit/internal/storage"
	logx "kcommit/pkg/logx"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// pushPayload is the slice of GitHub's push event the receiver reads.
type pushPayload struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
	} `json:"commits"`
}

// handleWebhook receives GitHub push events. The signature is checked
// against the sender's stored per-user secret; an unverifiable delivery
// is dropped with 401 and never parsed further.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid payload")
		return
	}
	owner := payload.Repository.Owner.Login
	if owner == "" {
		writeErr(w, http.StatusBadRequest, "missing repository owner")
		return
	}

	u, ok, err := s.store.GetUser(r.Context(), owner)
	if err != nil || !ok || u.WebhookSecret == "" {
		writeErr(w, http.StatusUnauthorized, "unknown sender")
		return
	}
	if !verifySignature(u.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.log.Warn("webhook signature mismatch", logx.String("owner", owner))
		writeErr(w, http.StatusUnauthorized, "signature mismatch")
		return
	}

	if ev := r.Header.Get("X-GitHub-Event"); ev != "push" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": ev})
		return
	}

	recorded := 0
	for _, c := range payload.Commits {
		if c.ID == "" {
			continue
		}
		err := s.store.RecordCommit(r.Context(), storage.CommitRecord{
			Username: owner,
			RepoName: payload.Repository.Name,
			SHA:      c.ID,
			Message:  c.Message,
			URL:      c.URL,
		})
		if err != nil {
			s.log.Warn("webhook commit not recorded",
				logx.String("owner", owner), logx.String("sha", c.ID), logx.Err(err))
			continue
		}
		recorded++
	}

	s.log.Debug("push delivery",
		logx.String("owner", owner),
		logx.String("repo", payload.Repository.Name),
		logx.Int("commits", recorded),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// verifySignature checks GitHub's sha256= HMAC header in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func newWebhookSecret() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
