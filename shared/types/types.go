// Package types holds the request and response bodies shared by the HTTP
// API and its client.
package types

import (
	"time"

	"inveni/internal/validation"
)

type PathRequest struct {
	Path string `json:"path"`
}

func (r *PathRequest) Validate() error {
	return validation.Required("path", r.Path)
}

type RestoringRequest struct {
	Path      string `json:"path"`
	Restoring bool   `json:"restoring"`
}

func (r *RestoringRequest) Validate() error {
	return validation.Required("path", r.Path)
}

type CommitRequest struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	// Force commits even when the content matches the latest version.
	Force bool `json:"force"`
}

func (r *CommitRequest) Validate() error {
	if err := validation.Required("path", r.Path); err != nil {
		return err
	}
	return validation.Required("message", r.Message)
}

type RestoreRequest struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

func (r *RestoreRequest) Validate() error {
	if err := validation.Required("path", r.Path); err != nil {
		return err
	}
	return validation.Hash("hash", r.Hash)
}

// ErrorResponse mirrors the typed errors of the service.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"`
}

type Health struct {
	Status string `json:"status"`
}

type Status struct {
	Paused       bool     `json:"paused"`
	PendingCount int      `json:"pending_count"`
	PendingPaths []string `json:"pending_paths"`
	Watched      []string `json:"watched"`
	Restoring    []string `json:"restoring"`
	Tracked      int      `json:"tracked"`
}

type FileStatus struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	ModTime   time.Time `json:"mod_time"`
	Size      int64     `json:"size"`
	Open      bool      `json:"open"`
	LastCheck time.Time `json:"last_check"`
	Restoring bool      `json:"restoring"`
	Pending   bool      `json:"pending"`
	Backups   int       `json:"backups"`
}

// Blob is one stored backup of a file.
type Blob struct {
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type CommitResponse struct {
	Path         string   `json:"path"`
	Hash         string   `json:"hash"`
	PreviousHash string   `json:"previous_hash,omitempty"`
	Evicted      []string `json:"evicted,omitempty"`
	FirstCommit  bool     `json:"first_commit"`
	Timestamp    string   `json:"timestamp"`
}

type Version struct {
	Hash          string `json:"hash"`
	Timestamp     string `json:"timestamp"`
	CommitMessage string `json:"commit_message"`
	Username      string `json:"username"`
	PreviousHash  string `json:"previous_hash,omitempty"`
	Size          int64  `json:"size"`
	FileType      string `json:"file_type"`
	Available     bool   `json:"available"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type Diff struct {
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
	Binary    bool   `json:"binary"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Unified   string `json:"unified"`
}

type JournalEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash,omitempty"`
	Message   string    `json:"message,omitempty"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
