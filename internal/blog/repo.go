package blog

import (
	"context"
	"time"
)

// Repo persists the blog aggregate and its reference collections.
// Counter and comment mutations must be single atomic store updates.
type Repo interface {
	// CreatePost stores a new post with no comments and sets its ID.
	CreatePost(ctx context.Context, post *Post) error
	ListPosts(ctx context.Context, offset, limit int) ([]*Post, int64, error)
	GetPost(ctx context.Context, id string) (*Post, error)
	UpdatePost(ctx context.Context, id string, update PostUpdate) (*Post, error)
	DeletePost(ctx context.Context, id string) error

	AddComment(ctx context.Context, postID string, comment *Comment, updatedAt time.Time) error
	UpdateComment(ctx context.Context, ref CommentRef, content string, updatedAt time.Time) (*Post, error)
	DeleteComment(ctx context.Context, ref CommentRef, updatedAt time.Time) error

	ReactToPost(ctx context.Context, postID string, reaction Reaction, updatedAt time.Time) (*Post, error)
	ReactToComment(ctx context.Context, ref CommentRef, reaction Reaction, updatedAt time.Time) (*Post, error)

	CreateCategory(ctx context.Context, category *Category) error
	ListCategories(ctx context.Context) ([]*Category, error)
	CategoriesByIDs(ctx context.Context, ids []string) ([]*Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreateAuthor(ctx context.Context, author *Author) error
	ListAuthors(ctx context.Context) ([]*Author, error)
	AuthorsByIDs(ctx context.Context, ids []string) ([]*Author, error)
	GetAuthor(ctx context.Context, id string) (*Author, error)
}
