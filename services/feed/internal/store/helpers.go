package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

// prepareAuthor fills defaults and checks required fields.
func prepareAuthor(a domain.Author) (domain.Author, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.Username = strings.TrimSpace(a.Username)
	if a.ID == "" || a.Username == "" {
		return domain.Author{}, fmt.Errorf("%w: author id and username are required", domain.ErrValidation)
	}
	a.TotalKarma = 0
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return a, nil
}

func preparePost(p domain.Post) (domain.Post, error) {
	if strings.TrimSpace(p.AuthorID) == "" || strings.TrimSpace(p.Content) == "" {
		return domain.Post{}, fmt.Errorf("%w: post author and content are required", domain.ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p, nil
}

func prepareComment(c domain.Comment) (domain.Comment, error) {
	if strings.TrimSpace(c.AuthorID) == "" || strings.TrimSpace(c.PostID) == "" || strings.TrimSpace(c.Content) == "" {
		return domain.Comment{}, fmt.Errorf("%w: comment post, author and content are required", domain.ErrValidation)
	}
	if c.IsRoot() {
		c.ParentID = nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return c, nil
}

func prepareLike(l domain.LikeEvent) (domain.LikeEvent, error) {
	if !l.Kind.Valid() {
		return domain.LikeEvent{}, fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, l.Kind)
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return l, nil
}

// crossPostParent is the error for a reply whose parent lives on another post.
func crossPostParent(parentID, postID string) error {
	return fmt.Errorf("%w: parent comment %s does not belong to post %s", domain.ErrValidation, parentID, postID)
}

func missingParent(parentID string) error {
	return fmt.Errorf("%w: parent comment %s does not exist", domain.ErrValidation, parentID)
}

// sortedUnique returns the distinct non-empty ids in ascending order.
func sortedUnique(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// mergeTally folds per-author counts into a slice sorted by author id.
func mergeTally(byAuthor map[string]*domain.AuthorLikes) []domain.AuthorLikes {
	out := make([]domain.AuthorLikes, 0, len(byAuthor))
	for _, a := range byAuthor {
		if a.PostLikes == 0 && a.CommentLikes == 0 {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuthorID < out[j].AuthorID })
	return out
}

func tallyFor(m map[string]*domain.AuthorLikes, authorID string) *domain.AuthorLikes {
	a, ok := m[authorID]
	if !ok {
		a = &domain.AuthorLikes{AuthorID: authorID}
		m[authorID] = a
	}
	return a
}
