package blog

import (
	"strings"
	"time"

	"github.com/2beens/portfolio/internal/media"
)

type Document struct {
	Title string `json:"title" bson:"title"`
	URL   string `json:"url" bson:"url"`
}

type Author struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`

	// resolved on read, nil when the author is unknown
	Author *Author `json:"author,omitempty"`
}

// Post is the blog aggregate root. Comments are embedded and live and die with it.
type Post struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	AuthorID    string     `json:"authorId"`
	CategoryIDs []string   `json:"categoryIds"`
	Comments    []*Comment `json:"comments"`
	Image       string     `json:"image,omitempty"`
	Video       string     `json:"video,omitempty"`
	Audio       string     `json:"audio,omitempty"`
	Documents   []Document `json:"documents"`
	Likes       int        `json:"likes"`
	Dislikes    int        `json:"dislikes"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	// resolved on read
	Author     *Author     `json:"author,omitempty"`
	Categories []*Category `json:"categories"`
}

// normalize makes sure slices are never nil.
func (p *Post) normalize() {
	if p.CategoryIDs == nil {
		p.CategoryIDs = []string{}
	}
	if p.Comments == nil {
		p.Comments = []*Comment{}
	}
	if p.Documents == nil {
		p.Documents = []Document{}
	}
	if p.Categories == nil {
		p.Categories = []*Category{}
	}
}

func (p *Post) Comment(id string) *Comment {
	for _, c := range p.Comments {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type NewPost struct {
	Title       string
	Content     string
	AuthorID    string
	CategoryIDs []string
}

func (np NewPost) validate() error {
	if strings.TrimSpace(np.Title) == "" {
		return validationErr("title is required")
	}
	if strings.TrimSpace(np.Content) == "" {
		return validationErr("content is required")
	}
	if strings.TrimSpace(np.AuthorID) == "" {
		return validationErr("author is required")
	}
	return nil
}

// PostPatch holds the fields of a partial post update; nil fields stay untouched.
type PostPatch struct {
	Title       *string
	Content     *string
	CategoryIDs *[]string
}

func (pp PostPatch) validate() error {
	if pp.Title != nil && strings.TrimSpace(*pp.Title) == "" {
		return validationErr("title cannot be empty")
	}
	if pp.Content != nil && strings.TrimSpace(*pp.Content) == "" {
		return validationErr("content cannot be empty")
	}
	return nil
}

// PostUpdate is a PostPatch with uploaded media resolved to URLs.
type PostUpdate struct {
	PostPatch
	Image     *string
	Video     *string
	Audio     *string
	Documents *[]Document
	UpdatedAt time.Time
}

type NewComment struct {
	AuthorID string
	Content  string
}

func (nc NewComment) validate() error {
	if strings.TrimSpace(nc.AuthorID) == "" {
		return validationErr("author is required")
	}
	if strings.TrimSpace(nc.Content) == "" {
		return validationErr("content is required")
	}
	return nil
}

// CommentRef points to a comment. An empty PostID means the comment
// is looked up across all posts.
type CommentRef struct {
	PostID    string
	CommentID string
}

func (cr CommentRef) Scoped() bool {
	return cr.PostID != ""
}

type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

// field is the stored counter a reaction increments.
func (r Reaction) field() string {
	if r == ReactionDislike {
		return "dislikes"
	}
	return "likes"
}

type Page struct {
	Page int
	Size int
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Size
}

type PostsPage struct {
	Posts []*Post `json:"posts"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"size"`
}

// MediaInputs are the staged files attached to a create or update request.
type MediaInputs struct {
	Image     *media.StagedFile
	Video     *media.StagedFile
	Audio     *media.StagedFile
	Documents []*media.StagedFile
}

func (mi MediaInputs) Empty() bool {
	return mi.Image == nil && mi.Video == nil && mi.Audio == nil && len(mi.Documents) == 0
}

// Cleanup removes every staged file that was not uploaded yet.
func (mi MediaInputs) Cleanup() {
	media.CleanupAll(mi.Image, mi.Video, mi.Audio)
	media.CleanupAll(mi.Documents...)
}
