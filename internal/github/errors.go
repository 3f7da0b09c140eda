package github

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized covers bad, expired, or under-scoped tokens.
	ErrUnauthorized = errors.New("github: unauthorized")
	// ErrNotFound covers missing repos, refs, and users.
	ErrNotFound = errors.New("github: not found")
	// ErrRepoExists is a repository name collision on create.
	ErrRepoExists = errors.New("github: repository name already exists")
)

// SuggestRepoNames offers fallback names after an ErrRepoExists, in the
// order a caller should present them.
func SuggestRepoNames(base string) []string {
	year := time.Now().Year()
	return []string{
		fmt.Sprintf("%s-%d", base, year),
		base + "-auto",
		base + "-daily",
	}
}
