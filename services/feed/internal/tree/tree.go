// Package tree nests flat comment lists into reply trees.
package tree

import (
	"cmp"
	"slices"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

// Node is one comment with its replies. Depth 0 is a direct reply to the post.
type Node struct {
	domain.Comment
	Username    string  `json:"username,omitempty"`
	ContentHTML string  `json:"content_html,omitempty"`
	Depth       int     `json:"depth"`
	LikeCount   int     `json:"like_count"`
	HasLiked    bool    `json:"has_liked"`
	Replies     []*Node `json:"replies"`
}

// Annotations are per-comment values looked up while building. Nil maps are
// treated as empty.
type Annotations struct {
	LikeCounts map[string]int    // comment id -> likes
	Liked      map[string]bool   // comment id -> viewer has liked
	Usernames  map[string]string // author id -> username
	// Render, when set, fills ContentHTML.
	Render func(string) string
}

type groupKey struct {
	postID   string
	parentID string // "" for the root level
}

// Order is created_at ascending, id ascending on ties.
func Order(a, b domain.Comment) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Build groups comments by post and parent in a single pass, then expands
// each post's roots from those groups. Siblings keep Order. A comment whose
// parent is missing from the input (or sits on another post) is placed at the
// root level of its own post.
func Build(comments []domain.Comment, ann Annotations) map[string][]*Node {
	if !slices.IsSortedFunc(comments, Order) {
		comments = slices.Clone(comments)
		slices.SortStableFunc(comments, Order)
	}

	postOf := make(map[string]string, len(comments))
	for _, c := range comments {
		postOf[c.ID] = c.PostID
	}

	groups := make(map[groupKey][]domain.Comment)
	var roots []domain.Comment
	for _, c := range comments {
		k := groupKey{postID: c.PostID}
		if !c.IsRoot() {
			if post, ok := postOf[*c.ParentID]; ok && post == c.PostID {
				k.parentID = *c.ParentID
			}
		}
		if k.parentID == "" {
			roots = append(roots, c)
			continue
		}
		groups[k] = append(groups[k], c)
	}

	out := make(map[string][]*Node)
	visited := make(map[string]bool, len(comments))
	var queue []*Node
	newNode := func(c domain.Comment, depth int) *Node {
		visited[c.ID] = true
		n := &Node{
			Comment:   c,
			Username:  ann.Usernames[c.AuthorID],
			Depth:     depth,
			LikeCount: ann.LikeCounts[c.ID],
			HasLiked:  ann.Liked[c.ID],
			Replies:   []*Node{},
		}
		if ann.Render != nil {
			n.ContentHTML = ann.Render(c.Content)
		}
		queue = append(queue, n)
		return n
	}

	expand := func() {
		for len(queue) > 0 {
			parent := queue[0]
			queue = queue[1:]
			for _, c := range groups[groupKey{postID: parent.PostID, parentID: parent.ID}] {
				if !visited[c.ID] {
					parent.Replies = append(parent.Replies, newNode(c, parent.Depth+1))
				}
			}
		}
	}

	for _, c := range roots {
		out[c.PostID] = append(out[c.PostID], newNode(c, 0))
	}
	expand()

	// Comments only reachable through a parent cycle are promoted to the root.
	for _, c := range comments {
		if !visited[c.ID] {
			out[c.PostID] = append(out[c.PostID], newNode(c, 0))
			expand()
		}
	}
	return out
}
