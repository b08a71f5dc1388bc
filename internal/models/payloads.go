// StreamWarden - Real-Time GitHub Event Anomaly Detection
// Copyright 2026 StreamWarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Typed payload variants. Only the fields detectors consume are modeled;
// the rest of the upstream payload remains in Event.Payload for
// re-serialization into anomaly records.

// CommitAuthor is the author block inside a push commit.
type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is a single commit inside a push payload. File lists are present
// only when the upstream enriches the payload; detectors treat them as
// best-effort.
type Commit struct {
	SHA      string       `json:"sha"`
	Message  string       `json:"message"`
	Author   CommitAuthor `json:"author"`
	Distinct bool         `json:"distinct"`
	Added    []string     `json:"added,omitempty"`
	Removed  []string     `json:"removed,omitempty"`
	Modified []string     `json:"modified,omitempty"`
}

// PushPayload carries the push-specific fields.
type PushPayload struct {
	Ref          string   `json:"ref"`
	Head         string   `json:"head"`
	Before       string   `json:"before"`
	Size         int      `json:"size"`
	DistinctSize int      `json:"distinct_size"`
	Forced       bool     `json:"forced"`
	Commits      []Commit `json:"commits"`
}

// OnDefaultBranch reports whether the push targets a default-branch ref.
func (p *PushPayload) OnDefaultBranch() bool {
	switch p.Ref {
	case "refs/heads/main", "refs/heads/master":
		return true
	}
	return false
}

// DeletePayload carries ref deletion details.
type DeletePayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"` // branch, tag
}

// CreatePayload carries ref creation details.
type CreatePayload struct {
	Ref          string `json:"ref"`
	RefType      string `json:"ref_type"` // repository, branch, tag
	MasterBranch string `json:"master_branch"`
	Description  string `json:"description"`
}

// WorkflowRun is the nested run object in a workflow event.
type WorkflowRun struct {
	Name       string `json:"name"`
	HeadBranch string `json:"head_branch"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	RunAttempt int    `json:"run_attempt"`
}

// WorkflowRunPayload carries workflow run details.
type WorkflowRunPayload struct {
	Action      string      `json:"action"`
	WorkflowRun WorkflowRun `json:"workflow_run"`
}

// MemberPayload carries collaborator membership changes.
type MemberPayload struct {
	Action string `json:"action"` // added, edited, removed
	Member Actor  `json:"member"`
}

// PullRequestPayload carries the subset of PR fields the pipeline reads.
type PullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title  string `json:"title"`
		State  string `json:"state"`
		Merged bool   `json:"merged"`
	} `json:"pull_request"`
}

// ReleasePayload carries release details.
type ReleasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
	} `json:"release"`
}

// PushPayload decodes the payload of a PushEvent.
func (e *Event) PushPayload() (*PushPayload, error) {
	if e.Type != EventTypePush {
		return nil, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventTypePush)
	}
	var p PushPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}
	return &p, nil
}

// DeletePayload decodes the payload of a DeleteEvent.
func (e *Event) DeletePayload() (*DeletePayload, error) {
	if e.Type != EventTypeDelete {
		return nil, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventTypeDelete)
	}
	var p DeletePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode delete payload: %w", err)
	}
	return &p, nil
}

// WorkflowRunPayload decodes the payload of a WorkflowRunEvent.
func (e *Event) WorkflowRunPayload() (*WorkflowRunPayload, error) {
	if e.Type != EventTypeWorkflowRun {
		return nil, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventTypeWorkflowRun)
	}
	var p WorkflowRunPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode workflow run payload: %w", err)
	}
	return &p, nil
}

// MemberPayload decodes the payload of a MemberEvent.
func (e *Event) MemberPayload() (*MemberPayload, error) {
	if e.Type != EventTypeMember {
		return nil, fmt.Errorf("event %s is %s, not %s", e.ID, e.Type, EventTypeMember)
	}
	var p MemberPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode member payload: %w", err)
	}
	return &p, nil
}

// SlimPayload reduces a medium/low priority payload to the fields the
// detectors consume, bounding queue and storage volume. High-priority
// events keep their full payload.
func SlimPayload(t EventType, payload json.RawMessage) json.RawMessage {
	if PriorityFor(t) == PriorityHigh || len(payload) == 0 {
		return payload
	}

	switch t {
	case EventTypePullRequest:
		var p PullRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return payload
		}
		if len(p.PullRequest.Title) > 200 {
			p.PullRequest.Title = p.PullRequest.Title[:200]
		}
		slim, err := json.Marshal(&p)
		if err != nil {
			return payload
		}
		return slim
	case EventTypeCreate:
		var p CreatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return payload
		}
		slim, err := json.Marshal(&p)
		if err != nil {
			return payload
		}
		return slim
	}
	return payload
}
