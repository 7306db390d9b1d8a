package blog

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Repo = (*repoMock)(nil)

// repoMock is an in-memory Repo. Setting err makes every call fail with it.
type repoMock struct {
	mutex      sync.Mutex
	posts      map[string]*Post
	categories map[string]*Category
	authors    map[string]*Author
	err        error
}

func newRepoMock() *repoMock {
	return &repoMock{
		posts:      make(map[string]*Post),
		categories: make(map[string]*Category),
		authors:    make(map[string]*Author),
	}
}

func (r *repoMock) PostsCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.posts)
}

func copyPost(p *Post) *Post {
	cp := *p
	cp.CategoryIDs = append([]string{}, p.CategoryIDs...)
	cp.Documents = append([]Document{}, p.Documents...)
	cp.Comments = make([]*Comment, 0, len(p.Comments))
	for _, c := range p.Comments {
		cc := *c
		cp.Comments = append(cp.Comments, &cc)
	}
	cp.Author = nil
	cp.Categories = nil
	return &cp
}

func (r *repoMock) CreatePost(_ context.Context, post *Post) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	post.ID = primitive.NewObjectID().Hex()
	stored := copyPost(post)
	stored.Comments = []*Comment{}
	r.posts[post.ID] = stored
	return nil
}

func (r *repoMock) ListPosts(_ context.Context, offset, limit int) ([]*Post, int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, -1, r.err
	}

	all := make([]*Post, 0, len(r.posts))
	for _, p := range r.posts {
		all = append(all, copyPost(p))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*Post{}, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (r *repoMock) GetPost(_ context.Context, id string) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	return copyPost(p), nil
}

func (r *repoMock) UpdatePost(_ context.Context, id string, update PostUpdate) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	if update.Title != nil {
		p.Title = *update.Title
	}
	if update.Content != nil {
		p.Content = *update.Content
	}
	if update.CategoryIDs != nil {
		p.CategoryIDs = append([]string{}, *update.CategoryIDs...)
	}
	if update.Image != nil {
		p.Image = *update.Image
	}
	if update.Video != nil {
		p.Video = *update.Video
	}
	if update.Audio != nil {
		p.Audio = *update.Audio
	}
	if update.Documents != nil {
		p.Documents = append([]Document{}, *update.Documents...)
	}
	p.UpdatedAt = update.UpdatedAt
	return copyPost(p), nil
}

func (r *repoMock) DeletePost(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.posts[id]; !ok {
		return ErrPostNotFound
	}
	delete(r.posts, id)
	return nil
}

func (r *repoMock) AddComment(_ context.Context, postID string, comment *Comment, updatedAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	p, ok := r.posts[postID]
	if !ok {
		return ErrPostNotFound
	}
	comment.ID = primitive.NewObjectID().Hex()
	c := *comment
	c.Author = nil
	p.Comments = append(p.Comments, &c)
	p.UpdatedAt = updatedAt
	return nil
}

// findComment must be called with the mutex held.
func (r *repoMock) findComment(ref CommentRef) (*Post, int, error) {
	if ref.Scoped() {
		p, ok := r.posts[ref.PostID]
		if !ok {
			return nil, -1, ErrPostNotFound
		}
		for i, c := range p.Comments {
			if c.ID == ref.CommentID {
				return p, i, nil
			}
		}
		return nil, -1, ErrCommentNotFound
	}
	for _, p := range r.posts {
		for i, c := range p.Comments {
			if c.ID == ref.CommentID {
				return p, i, nil
			}
		}
	}
	return nil, -1, ErrCommentNotFound
}

func (r *repoMock) UpdateComment(_ context.Context, ref CommentRef, content string, updatedAt time.Time) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, i, err := r.findComment(ref)
	if err != nil {
		return nil, err
	}
	p.Comments[i].Content = content
	p.UpdatedAt = updatedAt
	return copyPost(p), nil
}

func (r *repoMock) DeleteComment(_ context.Context, ref CommentRef, updatedAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	p, i, err := r.findComment(ref)
	if err != nil {
		return err
	}
	p.Comments = append(p.Comments[:i], p.Comments[i+1:]...)
	p.UpdatedAt = updatedAt
	return nil
}

func (r *repoMock) ReactToPost(_ context.Context, postID string, reaction Reaction, updatedAt time.Time) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.posts[postID]
	if !ok {
		return nil, ErrPostNotFound
	}
	if reaction == ReactionLike {
		p.Likes++
	} else {
		p.Dislikes++
	}
	p.UpdatedAt = updatedAt
	return copyPost(p), nil
}

func (r *repoMock) ReactToComment(_ context.Context, ref CommentRef, reaction Reaction, updatedAt time.Time) (*Post, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, i, err := r.findComment(ref)
	if err != nil {
		return nil, err
	}
	if reaction == ReactionLike {
		p.Comments[i].Likes++
	} else {
		p.Comments[i].Dislikes++
	}
	p.UpdatedAt = updatedAt
	return copyPost(p), nil
}

func (r *repoMock) CreateCategory(_ context.Context, category *Category) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, c := range r.categories {
		if c.Name == category.Name {
			return validationErr("category already exists")
		}
	}
	category.ID = primitive.NewObjectID().Hex()
	cp := *category
	r.categories[cp.ID] = &cp
	return nil
}

func (r *repoMock) ListCategories(_ context.Context) ([]*Category, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	categories := make([]*Category, 0, len(r.categories))
	for _, c := range r.categories {
		cp := *c
		categories = append(categories, &cp)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (r *repoMock) CategoriesByIDs(_ context.Context, ids []string) ([]*Category, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	categories := []*Category{}
	for _, id := range ids {
		if c, ok := r.categories[id]; ok {
			cp := *c
			categories = append(categories, &cp)
		}
	}
	return categories, nil
}

func (r *repoMock) DeleteCategory(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.categories[id]; !ok {
		return ErrCategoryNotFound
	}
	delete(r.categories, id)
	for _, p := range r.posts {
		kept := []string{}
		for _, cid := range p.CategoryIDs {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		p.CategoryIDs = kept
	}
	return nil
}

func (r *repoMock) CreateAuthor(_ context.Context, author *Author) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return r.err
	}
	author.ID = primitive.NewObjectID().Hex()
	cp := *author
	r.authors[cp.ID] = &cp
	return nil
}

func (r *repoMock) ListAuthors(_ context.Context) ([]*Author, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	authors := make([]*Author, 0, len(r.authors))
	for _, a := range r.authors {
		cp := *a
		authors = append(authors, &cp)
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i].Name < authors[j].Name })
	return authors, nil
}

func (r *repoMock) AuthorsByIDs(_ context.Context, ids []string) ([]*Author, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	authors := []*Author{}
	for _, id := range ids {
		if a, ok := r.authors[id]; ok {
			cp := *a
			authors = append(authors, &cp)
		}
	}
	return authors, nil
}

func (r *repoMock) GetAuthor(_ context.Context, id string) (*Author, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	a, ok := r.authors[id]
	if !ok {
		return nil, ErrAuthorNotFound
	}
	cp := *a
	return &cp, nil
}
