// Package feed composes read views over the store and handles content
// creation.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/feed-platform/internal/platform/analytics"
	"github.com/example/feed-platform/services/feed/internal/content"
	"github.com/example/feed-platform/services/feed/internal/domain"
	"github.com/example/feed-platform/services/feed/internal/store"
	"github.com/example/feed-platform/services/feed/internal/tree"
)

// PostView is a post with its counters and comment tree.
type PostView struct {
	ID           string       `json:"id"`
	AuthorID     string       `json:"author_id"`
	Username     string       `json:"username"`
	Content      string       `json:"content"`
	ContentHTML  string       `json:"content_html"`
	CreatedAt    time.Time    `json:"created_at"`
	LikeCount    int          `json:"like_count"`
	CommentCount int          `json:"comment_count"`
	HasLiked     bool         `json:"has_liked"`
	Comments     []*tree.Node `json:"comments"`
}

// Service serves feed reads and content writes.
type Service struct {
	store     store.Store
	log       *zap.Logger
	analytics *analytics.Publisher
}

// NewService returns a Service backed by st.
func NewService(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log}
}

// WithAnalytics reports registrations and new content to p.
func (s *Service) WithAnalytics(p *analytics.Publisher) *Service {
	s.analytics = p
	return s
}

// GetFeed returns every post newest first with its comment forest. viewerID
// may be empty, in which case nothing is marked as liked.
func (s *Service) GetFeed(ctx context.Context, viewerID string) ([]PostView, error) {
	var views []PostView
	err := s.store.Snapshot(ctx, func(r store.Reader) error {
		posts, err := r.ListPosts(ctx)
		if err != nil {
			return err
		}
		views, err = compose(ctx, r, viewerID, posts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return views, nil
}

// GetPost returns a single post view.
func (s *Service) GetPost(ctx context.Context, viewerID, postID string) (PostView, error) {
	var view PostView
	err := s.store.Snapshot(ctx, func(r store.Reader) error {
		p, err := r.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		views, err := compose(ctx, r, viewerID, []domain.Post{p})
		if err != nil {
			return err
		}
		view = views[0]
		return nil
	})
	return view, err
}

// compose batches every lookup so the number of queries does not grow with
// the number of posts or comments.
func compose(ctx context.Context, r store.Reader, viewerID string, posts []domain.Post) ([]PostView, error) {
	views := make([]PostView, 0, len(posts))
	if len(posts) == 0 {
		return views, nil
	}

	postIDs := make([]string, len(posts))
	authorIDs := make([]string, 0, len(posts))
	for i, p := range posts {
		postIDs[i] = p.ID
		authorIDs = append(authorIDs, p.AuthorID)
	}

	comments, err := r.CommentsByPosts(ctx, postIDs)
	if err != nil {
		return nil, err
	}
	commentIDs := make([]string, len(comments))
	commentCounts := make(map[string]int, len(posts))
	for i, c := range comments {
		commentIDs[i] = c.ID
		commentCounts[c.PostID]++
		authorIDs = append(authorIDs, c.AuthorID)
	}

	authors, err := r.AuthorsByID(ctx, authorIDs)
	if err != nil {
		return nil, err
	}
	usernames := make(map[string]string, len(authors))
	for id, a := range authors {
		usernames[id] = a.Username
	}

	postLikes, err := r.LikeCounts(ctx, domain.KindPost, postIDs)
	if err != nil {
		return nil, err
	}
	commentLikes, err := r.LikeCounts(ctx, domain.KindComment, commentIDs)
	if err != nil {
		return nil, err
	}
	postLiked, err := r.LikedBy(ctx, viewerID, domain.KindPost, postIDs)
	if err != nil {
		return nil, err
	}
	commentLiked, err := r.LikedBy(ctx, viewerID, domain.KindComment, commentIDs)
	if err != nil {
		return nil, err
	}

	forest := tree.Build(comments, tree.Annotations{
		LikeCounts: commentLikes,
		Liked:      commentLiked,
		Usernames:  usernames,
		Render:     content.Render,
	})

	for _, p := range posts {
		nodes := forest[p.ID]
		if nodes == nil {
			nodes = []*tree.Node{}
		}
		views = append(views, PostView{
			ID:           p.ID,
			AuthorID:     p.AuthorID,
			Username:     usernames[p.AuthorID],
			Content:      p.Content,
			ContentHTML:  content.Render(p.Content),
			CreatedAt:    p.CreatedAt,
			LikeCount:    postLikes[p.ID],
			CommentCount: commentCounts[p.ID],
			HasLiked:     postLiked[p.ID],
			Comments:     nodes,
		})
	}
	return views, nil
}

// RegisterAuthor creates the Author row for an authenticated identity.
func (s *Service) RegisterAuthor(ctx context.Context, id, username string) (domain.Author, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return domain.Author{}, fmt.Errorf("%w: username must be 3 to 32 characters", domain.ErrValidation)
	}
	a, err := s.store.CreateAuthor(ctx, domain.Author{ID: id, Username: username})
	if err != nil {
		return domain.Author{}, err
	}
	s.log.Info("author registered", zap.String("author_id", a.ID), zap.String("username", a.Username))
	s.analytics.Publish(analytics.SubjectAuthorRegistered, "author_registered", a.ID, map[string]any{"username": a.Username})
	return a, nil
}

// CreatePost normalises text and stores it as a new post by authorID.
func (s *Service) CreatePost(ctx context.Context, authorID, text string) (domain.Post, error) {
	text, err := content.Normalize(text, content.MaxPostChars)
	if err != nil {
		return domain.Post{}, err
	}
	p, err := s.store.CreatePost(ctx, domain.Post{AuthorID: authorID, Content: text})
	if err != nil {
		return domain.Post{}, err
	}
	s.analytics.Publish(analytics.SubjectPostCreated, "post_created", authorID, map[string]any{"post_id": p.ID})
	return p, nil
}

// CreateComment stores a comment on postID, optionally replying to parentID.
func (s *Service) CreateComment(ctx context.Context, authorID, postID string, parentID *string, text string) (domain.Comment, error) {
	text, err := content.Normalize(text, content.MaxCommentChars)
	if err != nil {
		return domain.Comment{}, err
	}
	c, err := s.store.CreateComment(ctx, domain.Comment{PostID: postID, AuthorID: authorID, ParentID: parentID, Content: text})
	if err != nil {
		return domain.Comment{}, err
	}
	s.analytics.Publish(analytics.SubjectCommentCreated, "comment_created", authorID, map[string]any{
		"post_id":    c.PostID,
		"comment_id": c.ID,
		"is_reply":   !c.IsRoot(),
	})
	return c, nil
}

// GetAuthor returns the author with id.
func (s *Service) GetAuthor(ctx context.Context, id string) (domain.Author, error) {
	return s.store.GetAuthor(ctx, id)
}
