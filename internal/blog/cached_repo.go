package blog

import (
	"context"

	"github.com/2beens/portfolio/internal/cache"
)

const (
	cacheKindAuthor   = "author"
	cacheKindCategory = "category"
)

// CachedRepo serves author and category lookups from an in-process cache.
// Those are read on every post resolve and change rarely; everything else goes to the Repo.
type CachedRepo struct {
	Repo
	cache *cache.JSONCache
}

var _ Repo = (*CachedRepo)(nil)

func NewCachedRepo(repo Repo, jsonCache *cache.JSONCache) *CachedRepo {
	return &CachedRepo{
		Repo:  repo,
		cache: jsonCache,
	}
}

func (r *CachedRepo) AuthorsByIDs(ctx context.Context, ids []string) ([]*Author, error) {
	authors, missing := cachedByIDs[Author](r.cache, cacheKindAuthor, ids)
	if len(missing) == 0 {
		return authors, nil
	}

	fetched, err := r.Repo.AuthorsByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, a := range fetched {
		r.cache.Set(cacheKindAuthor, a.ID, a)
	}
	return append(authors, fetched...), nil
}

func (r *CachedRepo) GetAuthor(ctx context.Context, id string) (*Author, error) {
	var author Author
	if r.cache.Get(cacheKindAuthor, id, &author) {
		return &author, nil
	}

	a, err := r.Repo.GetAuthor(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(cacheKindAuthor, a.ID, a)
	return a, nil
}

func (r *CachedRepo) CategoriesByIDs(ctx context.Context, ids []string) ([]*Category, error) {
	categories, missing := cachedByIDs[Category](r.cache, cacheKindCategory, ids)
	if len(missing) == 0 {
		return categories, nil
	}

	fetched, err := r.Repo.CategoriesByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, c := range fetched {
		r.cache.Set(cacheKindCategory, c.ID, c)
	}
	return append(categories, fetched...), nil
}

// DeleteCategory evicts only once the store delete went through, so a lookup
// racing with the delete cannot leave the deleted category cached.
func (r *CachedRepo) DeleteCategory(ctx context.Context, id string) error {
	if err := r.Repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	r.cache.Del(cacheKindCategory, id)
	return nil
}

func cachedByIDs[T any](jsonCache *cache.JSONCache, kind string, ids []string) (found []*T, missing []string) {
	for _, id := range ids {
		var v T
		if jsonCache.Get(kind, id, &v) {
			found = append(found, &v)
			continue
		}
		missing = append(missing, id)
	}
	return found, missing
}
