package tree

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/example/feed-platform/services/feed/internal/domain"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func comment(id, post, parent string, minute int) domain.Comment {
	c := domain.Comment{ID: id, PostID: post, AuthorID: "author-" + id, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
	if parent != "" {
		c.ParentID = &parent
	}
	return c
}

// shape renders a forest as A[C[D]],B.
func shape(nodes []*Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s := n.ID
		if len(n.Replies) > 0 {
			s += "[" + shape(n.Replies) + "]"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

func TestBuild_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		comments []domain.Comment
		want     string
	}{
		{
			name: "nested chain",
			comments: []domain.Comment{
				comment("A", "p", "", 0),
				comment("B", "p", "", 1),
				comment("C", "p", "A", 2),
				comment("D", "p", "C", 3),
			},
			want: "A[C[D]],B",
		},
		{
			name:     "empty",
			comments: nil,
			want:     "",
		},
		{
			name: "ties broken by id",
			comments: []domain.Comment{
				comment("b", "p", "", 0),
				comment("a", "p", "", 0),
				comment("y", "p", "a", 1),
				comment("x", "p", "a", 1),
			},
			want: "a[x,y],b",
		},
		{
			name: "unsorted input",
			comments: []domain.Comment{
				comment("D", "p", "C", 3),
				comment("B", "p", "", 1),
				comment("C", "p", "A", 2),
				comment("A", "p", "", 0),
			},
			want: "A[C[D]],B",
		},
		{
			name: "orphan attached at root",
			comments: []domain.Comment{
				comment("A", "p", "", 0),
				comment("O", "p", "gone", 1),
				comment("R", "p", "O", 2),
			},
			want: "A,O[R]",
		},
		{
			name: "parent cycle is not dropped",
			comments: []domain.Comment{
				comment("X", "p", "Y", 0),
				comment("Y", "p", "X", 1),
			},
			want: "X[Y]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shape(Build(tt.comments, Annotations{})["p"])
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuild_SeparatesPosts(t *testing.T) {
	forest := Build([]domain.Comment{
		comment("A", "p1", "", 0),
		comment("B", "p2", "", 1),
		// a parent on another post does not adopt the reply
		comment("C", "p2", "A", 2),
	}, Annotations{})

	if got := shape(forest["p1"]); got != "A" {
		t.Fatalf("p1: expected A, got %q", got)
	}
	if got := shape(forest["p2"]); got != "B,C" {
		t.Fatalf("p2: expected B,C, got %q", got)
	}
}

func TestBuild_AnnotatesNodes(t *testing.T) {
	forest := Build([]domain.Comment{
		comment("A", "p", "", 0),
		comment("B", "p", "A", 1),
		comment("C", "p", "B", 2),
	}, Annotations{
		LikeCounts: map[string]int{"B": 3},
		Liked:      map[string]bool{"C": true},
		Usernames:  map[string]string{"author-A": "alice"},
	})

	a := forest["p"][0]
	b := a.Replies[0]
	c := b.Replies[0]
	if a.Depth != 0 || b.Depth != 1 || c.Depth != 2 {
		t.Fatalf("unexpected depths %d %d %d", a.Depth, b.Depth, c.Depth)
	}
	if a.Username != "alice" || b.LikeCount != 3 || !c.HasLiked || a.HasLiked {
		t.Fatalf("annotations not applied: %+v %+v %+v", a, b, c)
	}
	if c.Replies == nil {
		t.Fatal("leaf replies must be an empty slice, not nil")
	}
}

func TestBuild_Large(t *testing.T) {
	const n = 20000
	comments := make([]domain.Comment, 0, n)
	for i := 0; i < n; i++ {
		parent := ""
		if i > 0 {
			parent = fmt.Sprintf("c%06d", i-1)
		}
		comments = append(comments, comment(fmt.Sprintf("c%06d", i), "p", parent, i))
	}

	forest := Build(comments, Annotations{})
	depth := 0
	for node := forest["p"][0]; len(node.Replies) > 0; node = node.Replies[0] {
		depth++
	}
	if depth != n-1 {
		t.Fatalf("expected depth %d, got %d", n-1, depth)
	}
}
