package blog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/2beens/portfolio/internal/media"
	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/internal/telemetry/tracing"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type mediaUploader interface {
	Upload(ctx context.Context, file *media.StagedFile) (string, error)
}

type PageLimits struct {
	DefaultSize int
	MaxSize     int
}

// Service implements the blog aggregate operations on top of a Repo.
// Media is always uploaded before anything is written to the store.
type Service struct {
	repo           Repo
	uploader       mediaUploader
	metricsManager *metrics.Manager
	pageLimits     PageLimits
	now            func() time.Time
}

func NewService(
	repo Repo,
	uploader mediaUploader,
	metricsManager *metrics.Manager,
	pageLimits PageLimits,
) *Service {
	if pageLimits.MaxSize <= 0 {
		pageLimits.MaxSize = MaxPageSize
	}
	if pageLimits.DefaultSize <= 0 || pageLimits.DefaultSize > pageLimits.MaxSize {
		pageLimits.DefaultSize = min(DefaultPageSize, pageLimits.MaxSize)
	}
	return &Service{
		repo:           repo,
		uploader:       uploader,
		metricsManager: metricsManager,
		pageLimits:     pageLimits,
		now:            time.Now,
	}
}

// timestamps are stored with millisecond precision
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) CreatePost(ctx context.Context, newPost NewPost, mediaInputs MediaInputs) (_ *Post, err error) {
	defer mediaInputs.Cleanup()

	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.createPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := newPost.validate(); err != nil {
		return nil, err
	}

	uploaded, err := s.uploadMedia(ctx, mediaInputs)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	post := &Post{
		Title:       strings.TrimSpace(newPost.Title),
		Content:     newPost.Content,
		AuthorID:    strings.TrimSpace(newPost.AuthorID),
		CategoryIDs: cleanIDs(newPost.CategoryIDs),
		Comments:    []*Comment{},
		Documents:   []Document{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	uploaded.applyTo(post)

	if err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	span.SetAttributes(attribute.String("post.id", post.ID))
	s.metricsManager.CounterPostsCreated.Inc()

	log.Debugf("blog: post %s [%s] created", post.ID, post.Title)

	s.resolveWritten(ctx, post)
	return post, nil
}

func (s *Service) ListPosts(ctx context.Context, page Page) (_ *PostsPage, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.listPosts")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	page, err = s.normalizePage(page)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("page", page.Page))
	span.SetAttributes(attribute.Int("size", page.Size))

	posts, total, err := s.repo.ListPosts(ctx, page.Offset(), page.Size)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if err := s.resolve(ctx, posts...); err != nil {
		return nil, err
	}

	return &PostsPage{
		Posts: posts,
		Total: total,
		Page:  page.Page,
		Size:  page.Size,
	}, nil
}

func (s *Service) normalizePage(page Page) (Page, error) {
	if page.Page == 0 {
		page.Page = 1
	}
	if page.Size == 0 {
		page.Size = s.pageLimits.DefaultSize
	}
	if page.Page < 1 {
		return Page{}, validationErr("page must be at least 1")
	}
	if page.Size < 1 || page.Size > s.pageLimits.MaxSize {
		return Page{}, validationErr(fmt.Sprintf("size must be between 1 and %d", s.pageLimits.MaxSize))
	}
	return page, nil
}

func (s *Service) GetPost(ctx context.Context, id string) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.getPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", id))

	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// UpdatePost applies the patch and replaces the media of every slot present in mediaInputs.
func (s *Service) UpdatePost(ctx context.Context, id string, patch PostPatch, mediaInputs MediaInputs) (_ *Post, err error) {
	defer mediaInputs.Cleanup()

	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.updatePost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", id))

	if err := patch.validate(); err != nil {
		return nil, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}
	if patch.CategoryIDs != nil {
		categoryIDs := cleanIDs(*patch.CategoryIDs)
		patch.CategoryIDs = &categoryIDs
	}

	// no uploads for a post that is not there
	if !mediaInputs.Empty() {
		if _, err := s.repo.GetPost(ctx, id); err != nil {
			return nil, err
		}
	}

	uploaded, err := s.uploadMedia(ctx, mediaInputs)
	if err != nil {
		return nil, err
	}

	update := PostUpdate{
		PostPatch: patch,
		Image:     uploaded.image,
		Video:     uploaded.video,
		Audio:     uploaded.audio,
		Documents: uploaded.documents,
		UpdatedAt: s.timestamp(),
	}

	post, err := s.repo.UpdatePost(ctx, id, update)
	if err != nil {
		return nil, err
	}

	log.Debugf("blog: post %s updated", id)

	s.resolveWritten(ctx, post)
	return post, nil
}

func (s *Service) DeletePost(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.deletePost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", id))

	if err := s.repo.DeletePost(ctx, id); err != nil {
		return err
	}

	log.Debugf("blog: post %s deleted", id)
	return nil
}

func (s *Service) AddComment(ctx context.Context, postID string, newComment NewComment) (_ *Comment, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.addComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", postID))

	if err := newComment.validate(); err != nil {
		return nil, err
	}

	now := s.timestamp()
	comment := &Comment{
		AuthorID:  strings.TrimSpace(newComment.AuthorID),
		Content:   newComment.Content,
		CreatedAt: now,
	}
	if err := s.repo.AddComment(ctx, postID, comment, now); err != nil {
		return nil, err
	}
	s.metricsManager.CounterComments.Inc()

	authors, err := s.repo.AuthorsByIDs(ctx, []string{comment.AuthorID})
	if err != nil {
		recordResolveErr(ctx, fmt.Errorf("resolve comment author: %w", err))
		return comment, nil
	}
	if len(authors) > 0 {
		comment.Author = authors[0]
	}

	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, ref CommentRef, content string) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.updateComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))

	if strings.TrimSpace(content) == "" {
		return nil, validationErr("content is required")
	}
	if ref.CommentID == "" {
		return nil, ErrCommentNotFound
	}

	post, err := s.repo.UpdateComment(ctx, ref, content, s.timestamp())
	if err != nil {
		return nil, err
	}
	s.resolveWritten(ctx, post)
	return post, nil
}

func (s *Service) DeleteComment(ctx context.Context, ref CommentRef) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.deleteComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))

	if ref.CommentID == "" {
		return ErrCommentNotFound
	}
	return s.repo.DeleteComment(ctx, ref, s.timestamp())
}

func (s *Service) LikePost(ctx context.Context, postID string) (*Post, error) {
	return s.reactToPost(ctx, postID, ReactionLike)
}

func (s *Service) DislikePost(ctx context.Context, postID string) (*Post, error) {
	return s.reactToPost(ctx, postID, ReactionDislike)
}

func (s *Service) LikeComment(ctx context.Context, ref CommentRef) (*Post, error) {
	return s.reactToComment(ctx, ref, ReactionLike)
}

func (s *Service) DislikeComment(ctx context.Context, ref CommentRef) (*Post, error) {
	return s.reactToComment(ctx, ref, ReactionDislike)
}

func (s *Service) reactToPost(ctx context.Context, postID string, reaction Reaction) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.reactToPost")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("post.id", postID))
	span.SetAttributes(attribute.String("reaction", string(reaction)))

	post, err := s.repo.ReactToPost(ctx, postID, reaction, s.timestamp())
	if err != nil {
		return nil, err
	}
	s.metricsManager.CounterReactions.WithLabelValues("post", string(reaction)).Inc()

	s.resolveWritten(ctx, post)
	return post, nil
}

func (s *Service) reactToComment(ctx context.Context, ref CommentRef, reaction Reaction) (_ *Post, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.reactToComment")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("comment.id", ref.CommentID))
	span.SetAttributes(attribute.String("reaction", string(reaction)))

	if ref.CommentID == "" {
		return nil, ErrCommentNotFound
	}

	post, err := s.repo.ReactToComment(ctx, ref, reaction, s.timestamp())
	if err != nil {
		return nil, err
	}
	s.metricsManager.CounterReactions.WithLabelValues("comment", string(reaction)).Inc()

	s.resolveWritten(ctx, post)
	return post, nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationErr("category name is required")
	}
	category := &Category{Name: name}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]*Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	return s.repo.DeleteCategory(ctx, id)
}

type NewAuthor struct {
	Name   string
	Email  string
	Bio    string
	Avatar string
}

func (s *Service) CreateAuthor(ctx context.Context, newAuthor NewAuthor) (*Author, error) {
	if strings.TrimSpace(newAuthor.Name) == "" {
		return nil, validationErr("author name is required")
	}
	author := &Author{
		Name:      strings.TrimSpace(newAuthor.Name),
		Email:     strings.TrimSpace(newAuthor.Email),
		Bio:       newAuthor.Bio,
		Avatar:    newAuthor.Avatar,
		CreatedAt: s.timestamp(),
	}
	if err := s.repo.CreateAuthor(ctx, author); err != nil {
		return nil, err
	}
	return author, nil
}

func (s *Service) ListAuthors(ctx context.Context) ([]*Author, error) {
	return s.repo.ListAuthors(ctx)
}

func (s *Service) GetAuthor(ctx context.Context, id string) (*Author, error) {
	return s.repo.GetAuthor(ctx, id)
}

// resolve attaches the referenced authors and categories to the posts and their comments.
// Unknown references are left unresolved.
func (s *Service) resolve(ctx context.Context, posts ...*Post) error {
	if len(posts) == 0 {
		return nil
	}

	authorIDs := map[string]struct{}{}
	categoryIDs := map[string]struct{}{}
	for _, p := range posts {
		authorIDs[p.AuthorID] = struct{}{}
		for _, c := range p.Comments {
			authorIDs[c.AuthorID] = struct{}{}
		}
		for _, id := range p.CategoryIDs {
			categoryIDs[id] = struct{}{}
		}
	}

	authors, err := s.repo.AuthorsByIDs(ctx, keys(authorIDs))
	if err != nil {
		return fmt.Errorf("resolve authors: %w", err)
	}
	authorsByID := make(map[string]*Author, len(authors))
	for _, a := range authors {
		authorsByID[a.ID] = a
	}

	var categoriesByID map[string]*Category
	if len(categoryIDs) > 0 {
		categories, err := s.repo.CategoriesByIDs(ctx, keys(categoryIDs))
		if err != nil {
			return fmt.Errorf("resolve categories: %w", err)
		}
		categoriesByID = make(map[string]*Category, len(categories))
		for _, c := range categories {
			categoriesByID[c.ID] = c
		}
	}

	for _, p := range posts {
		p.normalize()
		p.Author = authorsByID[p.AuthorID]
		p.Categories = make([]*Category, 0, len(p.CategoryIDs))
		for _, id := range p.CategoryIDs {
			if c, ok := categoriesByID[id]; ok {
				p.Categories = append(p.Categories, c)
			}
		}
		for _, c := range p.Comments {
			c.Author = authorsByID[c.AuthorID]
		}
	}

	return nil
}

// resolveWritten resolves the references of posts that are already persisted.
// The write has committed at this point, so a failed lookup leaves the posts
// with their ids only instead of failing the operation.
func (s *Service) resolveWritten(ctx context.Context, posts ...*Post) {
	if err := s.resolve(ctx, posts...); err != nil {
		recordResolveErr(ctx, err)
		for _, p := range posts {
			p.normalize()
		}
	}
}

func recordResolveErr(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
	log.Warnf("blog: references left unresolved after write: %s", err)
}

type uploadedMedia struct {
	image     *string
	video     *string
	audio     *string
	documents *[]Document
}

func (um uploadedMedia) applyTo(post *Post) {
	if um.image != nil {
		post.Image = *um.image
	}
	if um.video != nil {
		post.Video = *um.video
	}
	if um.audio != nil {
		post.Audio = *um.audio
	}
	if um.documents != nil {
		post.Documents = *um.documents
	}
}

// uploadMedia uploads every present slot, stopping at the first failure.
func (s *Service) uploadMedia(ctx context.Context, mediaInputs MediaInputs) (uploadedMedia, error) {
	var um uploadedMedia
	if mediaInputs.Empty() {
		return um, nil
	}

	for _, single := range []struct {
		file *media.StagedFile
		dst  **string
	}{
		{mediaInputs.Image, &um.image},
		{mediaInputs.Video, &um.video},
		{mediaInputs.Audio, &um.audio},
	} {
		if single.file == nil {
			continue
		}
		url, err := s.upload(ctx, single.file)
		if err != nil {
			return uploadedMedia{}, err
		}
		*single.dst = &url
	}

	if len(mediaInputs.Documents) > 0 {
		documents := make([]Document, 0, len(mediaInputs.Documents))
		for _, f := range mediaInputs.Documents {
			url, err := s.upload(ctx, f)
			if err != nil {
				return uploadedMedia{}, err
			}
			documents = append(documents, Document{Title: f.OriginalName, URL: url})
		}
		um.documents = &documents
	}

	return um, nil
}

func (s *Service) upload(ctx context.Context, file *media.StagedFile) (string, error) {
	url, err := s.uploader.Upload(ctx, file)
	if err != nil {
		if errors.Is(err, ErrUploadFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return url, nil
}

func cleanIDs(ids []string) []string {
	cleaned := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		cleaned = append(cleaned, id)
	}
	return cleaned
}

func keys(set map[string]struct{}) []string {
	ks := make([]string, 0, len(set))
	for k := range set {
		ks = append(ks, k)
	}
	return ks
}
