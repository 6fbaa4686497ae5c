// Package domain holds the feed entities and the closed set of like targets.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TargetKind discriminates what a like points at. The set is closed.
type TargetKind string

const (
	KindPost    TargetKind = "post"
	KindComment TargetKind = "comment"
)

// weights is the karma credited to a target's author per like.
var weights = map[TargetKind]int{
	KindPost:    5,
	KindComment: 1,
}

// ParseTargetKind accepts "post" or "comment" in any case.
func ParseTargetKind(s string) (TargetKind, error) {
	k := TargetKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weights[k]; !ok {
		return "", fmt.Errorf("%w: unknown target kind %q", ErrValidation, s)
	}
	return k, nil
}

func (k TargetKind) Valid() bool {
	_, ok := weights[k]
	return ok
}

// Weight returns the karma value of one like on k, zero for unknown kinds.
func (k TargetKind) Weight() int {
	return weights[k]
}

// Label is the capitalised name used in user facing messages.
func (k TargetKind) Label() string {
	switch k {
	case KindPost:
		return "Post"
	case KindComment:
		return "Comment"
	}
	return string(k)
}

type Author struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	TotalKarma int       `json:"total_karma"`
	CreatedAt  time.Time `json:"created_at"`
}

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// IsRoot reports whether c replies to the post directly.
func (c Comment) IsRoot() bool {
	return c.ParentID == nil || *c.ParentID == ""
}

// LikeEvent is one entry of the like log. Rows are only created or deleted.
type LikeEvent struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      TargetKind `json:"target_kind"`
	TargetID  string     `json:"target_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuthorLikes counts likes received by one author, split by target kind.
type AuthorLikes struct {
	AuthorID     string
	Username     string
	PostLikes    int
	CommentLikes int
}

// Karma applies the weight table to the counts.
func (a AuthorLikes) Karma() int {
	return a.PostLikes*KindPost.Weight() + a.CommentLikes*KindComment.Weight()
}
