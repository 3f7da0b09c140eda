package github

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kcommit/internal/schedule"
	logx "kcommit/pkg/logx"
)

// MakeCommit writes one commit to the head of the repository's default
// branch through the Git data API: resolve the branch head, upload a
// blob, build a tree on top of the head tree, commit it, advance the ref.
func (c *Client) MakeCommit(ctx context.Context, token, owner, repo, message string) (sha, url string, err error) {
	r, err := c.GetRepository(ctx, token, owner, repo)
	if err != nil {
		return "", "", err
	}
	branch := r.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	headSHA, err := c.getRef(ctx, token, owner, repo, branch)
	if err != nil {
		return "", "", err
	}
	baseTree, err := c.getCommitTree(ctx, token, owner, repo, headSHA)
	if err != nil {
		return "", "", err
	}

	// Every commit touches a unique file so the tree always changes even
	// when two fires land in the same second.
	path := fmt.Sprintf("activity/%s.txt", uuid.NewString())
	blobSHA, err := c.createBlob(ctx, token, owner, repo, message+"\n")
	if err != nil {
		return "", "", err
	}
	treeSHA, err := c.createTree(ctx, token, owner, repo, baseTree, path, blobSHA)
	if err != nil {
		return "", "", err
	}
	commitSHA, commitURL, err := c.createCommit(ctx, token, owner, repo, message, treeSHA, headSHA)
	if err != nil {
		return "", "", err
	}
	if err := c.updateRef(ctx, token, owner, repo, branch, commitSHA); err != nil {
		return "", "", err
	}

	c.log.Debug("commit created",
		logx.String("repo", owner+"/"+repo),
		logx.String("sha", commitSHA),
	)
	return commitSHA, commitURL, nil
}

func (c *Client) getRef(ctx context.Context, token, owner, repo, branch string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, branch))
	if err != nil {
		return "", fmt.Errorf("get ref: %w", err)
	}
	if resp.IsError() {
		return "", asErr("get ref", resp, &apiErr)
	}
	return out.Object.SHA, nil
}

func (c *Client) getCommitTree(ctx context.Context, token, owner, repo, commitSHA string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/repos/%s/%s/git/commits/%s", owner, repo, commitSHA))
	if err != nil {
		return "", fmt.Errorf("get commit: %w", err)
	}
	if resp.IsError() {
		return "", asErr("get commit", resp, &apiErr)
	}
	return out.Tree.SHA, nil
}

func (c *Client) createBlob(ctx context.Context, token, owner, repo, content string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out struct {
		SHA string `json:"sha"`
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]string{"content": content, "encoding": "utf-8"}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/repos/%s/%s/git/blobs", owner, repo))
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if resp.IsError() {
		return "", asErr("create blob", resp, &apiErr)
	}
	return out.SHA, nil
}

func (c *Client) createTree(ctx context.Context, token, owner, repo, baseTree, path, blobSHA string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out struct {
		SHA string `json:"sha"`
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]any{
			"base_tree": baseTree,
			"tree": []map[string]string{{
				"path": path,
				"mode": "100644",
				"type": "blob",
				"sha":  blobSHA,
			}},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/repos/%s/%s/git/trees", owner, repo))
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	if resp.IsError() {
		return "", asErr("create tree", resp, &apiErr)
	}
	return out.SHA, nil
}

func (c *Client) createCommit(ctx context.Context, token, owner, repo, message, treeSHA, parentSHA string) (sha, url string, err error) {
	if err := c.wait(ctx); err != nil {
		return "", "", err
	}
	var out struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]any{
			"message": message,
			"tree":    treeSHA,
			"parents": []string{parentSHA},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/repos/%s/%s/git/commits", owner, repo))
	if err != nil {
		return "", "", fmt.Errorf("create commit: %w", err)
	}
	if resp.IsError() {
		return "", "", asErr("create commit", resp, &apiErr)
	}
	return out.SHA, out.HTMLURL, nil
}

func (c *Client) updateRef(ctx context.Context, token, owner, repo, branch, sha string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	var apiErr apiError
	resp, err := c.req(ctx, token).
		SetBody(map[string]any{"sha": sha, "force": false}).
		SetError(&apiErr).
		Patch(fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, branch))
	if err != nil {
		return fmt.Errorf("update ref: %w", err)
	}
	if resp.IsError() {
		return asErr("update ref", resp, &apiErr)
	}
	return nil
}

// Invoke satisfies schedule.Invoker.
func (c *Client) Invoke(ctx context.Context, t schedule.Target, message string) (string, string, error) {
	return c.MakeCommit(ctx, t.Token, t.Username, t.RepoName, message)
}
