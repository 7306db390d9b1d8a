package blog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/portfolio/internal/cache"
	"github.com/2beens/portfolio/internal/telemetry/metrics"
)

// countingRepo counts the reference lookups that reach the underlying repo.
type countingRepo struct {
	*repoMock
	authorLookups   int
	categoryLookups int
}

func (r *countingRepo) AuthorsByIDs(ctx context.Context, ids []string) ([]*Author, error) {
	r.authorLookups++
	return r.repoMock.AuthorsByIDs(ctx, ids)
}

func (r *countingRepo) GetAuthor(ctx context.Context, id string) (*Author, error) {
	r.authorLookups++
	return r.repoMock.GetAuthor(ctx, id)
}

func (r *countingRepo) CategoriesByIDs(ctx context.Context, ids []string) ([]*Category, error) {
	r.categoryLookups++
	return r.repoMock.CategoriesByIDs(ctx, ids)
}

func newCachedRepoTestEnv(t *testing.T) (*CachedRepo, *countingRepo) {
	t.Helper()
	repo := &countingRepo{repoMock: newRepoMock()}
	return NewCachedRepo(repo, cache.NewJSONCache(cache.DefaultSizeBytes, time.Minute)), repo
}

func TestCachedRepo_Authors(t *testing.T) {
	ctx := context.Background()
	cachedRepo, repo := newCachedRepoTestEnv(t)

	ada := &Author{Name: "Ada"}
	bob := &Author{Name: "Bob"}
	require.NoError(t, cachedRepo.CreateAuthor(ctx, ada))
	require.NoError(t, cachedRepo.CreateAuthor(ctx, bob))

	authors, err := cachedRepo.AuthorsByIDs(ctx, []string{ada.ID})
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, 1, repo.authorLookups)

	// ada is cached now, only bob is fetched
	authors, err = cachedRepo.AuthorsByIDs(ctx, []string{ada.ID, bob.ID})
	require.NoError(t, err)
	require.Len(t, authors, 2)
	assert.Equal(t, 2, repo.authorLookups)

	authors, err = cachedRepo.AuthorsByIDs(ctx, []string{bob.ID, ada.ID})
	require.NoError(t, err)
	assert.Len(t, authors, 2)
	assert.Equal(t, 2, repo.authorLookups)

	author, err := cachedRepo.GetAuthor(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", author.Name)
	assert.Equal(t, 2, repo.authorLookups)
}

func TestCachedRepo_GetAuthor_NotFound(t *testing.T) {
	cachedRepo, _ := newCachedRepoTestEnv(t)

	_, err := cachedRepo.GetAuthor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAuthorNotFound)
}

func TestCachedRepo_Categories(t *testing.T) {
	ctx := context.Background()
	cachedRepo, repo := newCachedRepoTestEnv(t)

	golang := &Category{Name: "golang"}
	require.NoError(t, cachedRepo.CreateCategory(ctx, golang))

	for i := 0; i < 3; i++ {
		categories, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
		require.NoError(t, err)
		require.Len(t, categories, 1)
		assert.Equal(t, "golang", categories[0].Name)
	}
	assert.Equal(t, 1, repo.categoryLookups)

	require.NoError(t, cachedRepo.DeleteCategory(ctx, golang.ID))

	categories, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
	require.NoError(t, err)
	assert.Empty(t, categories)
	assert.Equal(t, 2, repo.categoryLookups)
}

func TestCachedRepo_ResolvesThroughService(t *testing.T) {
	ctx := context.Background()
	cachedRepo, repo := newCachedRepoTestEnv(t)
	service := NewService(cachedRepo, &uploaderMock{}, metrics.NewTestManager(), PageLimits{})

	author, err := service.CreateAuthor(ctx, NewAuthor{Name: "Ada"})
	require.NoError(t, err)

	post, err := service.CreatePost(ctx, NewPost{Title: "t", Content: "c", AuthorID: author.ID}, MediaInputs{})
	require.NoError(t, err)
	require.NotNil(t, post.Author)

	for i := 0; i < 3; i++ {
		got, err := service.GetPost(ctx, post.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Author)
		assert.Equal(t, "Ada", got.Author.Name)
	}
	assert.Equal(t, 1, repo.authorLookups)
}

// racingDeleteRepo runs beforeDelete right before the category is removed from the store.
type racingDeleteRepo struct {
	*countingRepo
	beforeDelete func()
}

func (r *racingDeleteRepo) DeleteCategory(ctx context.Context, id string) error {
	r.beforeDelete()
	return r.countingRepo.DeleteCategory(ctx, id)
}

func TestCachedRepo_DeleteCategory_LookupDuringDelete(t *testing.T) {
	ctx := context.Background()
	repo := &racingDeleteRepo{countingRepo: &countingRepo{repoMock: newRepoMock()}}
	cachedRepo := NewCachedRepo(repo, cache.NewJSONCache(cache.DefaultSizeBytes, time.Minute))

	golang := &Category{Name: "golang"}
	require.NoError(t, cachedRepo.CreateCategory(ctx, golang))

	repo.beforeDelete = func() {
		categories, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
		require.NoError(t, err)
		require.Len(t, categories, 1)
	}
	require.NoError(t, cachedRepo.DeleteCategory(ctx, golang.ID))

	categories, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
	require.NoError(t, err)
	assert.Empty(t, categories)
	assert.Equal(t, 2, repo.categoryLookups)
}

func TestCachedRepo_DeleteCategory_StoreFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	cachedRepo, repo := newCachedRepoTestEnv(t)

	golang := &Category{Name: "golang"}
	require.NoError(t, cachedRepo.CreateCategory(ctx, golang))
	_, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
	require.NoError(t, err)

	repo.err = ErrStoreUnavailable
	assert.ErrorIs(t, cachedRepo.DeleteCategory(ctx, golang.ID), ErrStoreUnavailable)

	// still cached, the store is not asked again
	categories, err := cachedRepo.CategoriesByIDs(ctx, []string{golang.ID})
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, 1, repo.categoryLookups)
}
