package blog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/portfolio/internal/media"
	"github.com/2beens/portfolio/pkg"
)

type handlerTestEnv struct {
	*serviceTestEnv
	router *mux.Router
}

func newHandlerTestEnv(t *testing.T) *handlerTestEnv {
	t.Helper()
	env := newServiceTestEnv(t)
	r := mux.NewRouter()
	NewHandler(env.service, 10<<20, t.TempDir()).SetupRoutes(r, nil, env.metrics, 0)
	return &handlerTestEnv{
		serviceTestEnv: env,
		router:         r,
	}
}

func (env *handlerTestEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type multipartFile struct {
	field, name, content string
}

func multipartRequest(t *testing.T, method, target string, values url.Values, files ...multipartFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for key, vs := range values {
		for _, v := range vs {
			require.NoError(t, mw.WriteField(key, v))
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, rr.Body.String())
	assert.Equal(t, code, decode[pkg.ErrorResponse](t, rr).Error.Code)
}

func TestHandler_Routes(t *testing.T) {
	r := mux.NewRouter()
	NewHandler(nil, 0, "").SetupRoutes(r, nil, nil, 0)

	for caseName, route := range map[string]struct {
		name   string
		path   string
		method string
	}{
		"new-post":             {"new-post", "/posts", "POST"},
		"new-post-options":     {"new-post", "/posts", "OPTIONS"},
		"posts-page":           {"posts-page", "/posts?page=1&size=2", "GET"},
		"get-post":             {"get-post", "/posts/abc", "GET"},
		"update-post":          {"update-post", "/posts/abc", "PUT"},
		"delete-post":          {"delete-post", "/posts/abc", "DELETE"},
		"add-comment":          {"add-comment", "/posts/abc/comments", "POST"},
		"update-comment":       {"update-comment", "/comments/c1", "PUT"},
		"update-post-comment":  {"update-post-comment", "/posts/abc/comments/c1", "PUT"},
		"delete-comment":       {"delete-comment", "/posts/abc/comments/c1", "DELETE"},
		"like-post":            {"like-post", "/posts/abc/like", "POST"},
		"dislike-post":         {"dislike-post", "/posts/abc/dislike", "POST"},
		"like-comment":         {"like-comment", "/comments/c1/like", "POST"},
		"dislike-comment":      {"dislike-comment", "/comments/c1/dislike", "POST"},
		"like-post-comment":    {"like-post-comment", "/posts/abc/comments/c1/like", "POST"},
		"dislike-post-comment": {"dislike-post-comment", "/posts/abc/comments/c1/dislike", "POST"},
		"categories":           {"categories", "/categories", "GET"},
		"new-category":         {"new-category", "/categories", "POST"},
		"delete-category":      {"delete-category", "/categories/x", "DELETE"},
		"authors":              {"authors", "/authors", "GET"},
		"new-author":           {"new-author", "/authors", "POST"},
		"get-author":           {"get-author", "/authors/x", "GET"},
	} {
		t.Run(caseName, func(t *testing.T) {
			req, err := http.NewRequest(route.method, route.path, nil)
			require.NoError(t, err)

			namedRoute := r.Get(route.name)
			require.NotNil(t, namedRoute)
			assert.True(t, namedRoute.Match(req, &mux.RouteMatch{}), caseName)
		})
	}
}

func TestHandler_NewPost_Multipart(t *testing.T) {
	env := newHandlerTestEnv(t)

	req := multipartRequest(t, "POST", "/posts",
		url.Values{
			"title":        {"A"},
			"content":      {"B"},
			"author":       {"u1"},
			"categories[]": {"c1", "c2"},
		},
		multipartFile{"image", "cover.png", "png"},
		multipartFile{"documents", "a.pdf", "pdf a"},
		multipartFile{"documents", "b.pdf", "pdf b"},
	)
	rr := env.do(t, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	post := decode[Post](t, rr)
	assert.NotEmpty(t, post.ID)
	assert.Equal(t, "A", post.Title)
	assert.Equal(t, []string{"c1", "c2"}, post.CategoryIDs)
	assert.Equal(t, "https://media.test/blog_images/cover.png", post.Image)
	assert.Equal(t, []Document{
		{Title: "a.pdf", URL: "https://media.test/blog_documents/a.pdf"},
		{Title: "b.pdf", URL: "https://media.test/blog_documents/b.pdf"},
	}, post.Documents)
	assert.Equal(t, 0, post.Likes)
	assert.Empty(t, post.Comments)
}

func TestHandler_NewPost_Errors(t *testing.T) {
	env := newHandlerTestEnv(t)

	rr := env.do(t, jsonRequest(t, "POST", "/posts", map[string]string{"title": "A", "author": "u1"}))
	assertError(t, rr, http.StatusBadRequest, "validation_failed")

	req := httptest.NewRequest("POST", "/posts", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	assertError(t, env.do(t, req), http.StatusBadRequest, "validation_failed")

	env.uploader.failOn = media.SlotAudio
	req = multipartRequest(t, "POST", "/posts",
		url.Values{"title": {"A"}, "content": {"B"}, "author": {"u1"}},
		multipartFile{"audio", "ep.mp3", "mp3"},
	)
	assertError(t, env.do(t, req), http.StatusBadGateway, "upload_failed")
	assert.Zero(t, env.repo.PostsCount())

	env.repo.err = fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	rr = env.do(t, jsonRequest(t, "POST", "/posts", map[string]string{"title": "A", "content": "B", "author": "u1"}))
	assertError(t, rr, http.StatusServiceUnavailable, "store_unavailable")
	assert.NotContains(t, rr.Body.String(), "connection refused")

	env.repo.err = fmt.Errorf("decode posts: unexpected bson")
	rr = env.do(t, httptest.NewRequest("GET", "/posts", nil))
	assertError(t, rr, http.StatusInternalServerError, "internal")
	assert.NotContains(t, rr.Body.String(), "bson")
}

func TestHandler_PostLifecycle(t *testing.T) {
	env := newHandlerTestEnv(t)

	// form encoded create
	form := url.Values{"title": {"A"}, "content": {"B"}, "author": {"u1"}}
	req := httptest.NewRequest("POST", "/posts", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := env.do(t, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	post := decode[Post](t, rr)

	rr = env.do(t, httptest.NewRequest("POST", "/posts/"+post.ID+"/like", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[Post](t, rr).Likes)

	rr = env.do(t, jsonRequest(t, "POST", "/posts/"+post.ID+"/comments", map[string]string{"author": "u2", "content": "nice"}))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	comment := decode[Comment](t, rr)
	assert.Equal(t, "nice", comment.Content)

	rr = env.do(t, httptest.NewRequest("POST", "/comments/"+comment.ID+"/dislike", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[Post](t, rr).Comments[0].Dislikes)

	rr = env.do(t, jsonRequest(t, "PUT", "/posts/"+post.ID+"/comments/"+comment.ID, map[string]string{"content": "very nice"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "very nice", decode[Post](t, rr).Comments[0].Content)

	rr = env.do(t, httptest.NewRequest("DELETE", "/posts/"+post.ID+"/comments/"+comment.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, deletedResponse{Message: "comment deleted", ID: comment.ID}, decode[deletedResponse](t, rr))

	rr = env.do(t, httptest.NewRequest("DELETE", "/posts/"+post.ID+"/comments/"+comment.ID, nil))
	assertError(t, rr, http.StatusNotFound, "not_found")

	rr = env.do(t, httptest.NewRequest("GET", "/posts/"+post.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[Post](t, rr)
	assert.Empty(t, got.Comments)
	assert.Equal(t, 1, got.Likes)

	rr = env.do(t, httptest.NewRequest("DELETE", "/posts/"+post.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, deletedResponse{Message: "post deleted", ID: post.ID}, decode[deletedResponse](t, rr))

	assertError(t, env.do(t, httptest.NewRequest("GET", "/posts/"+post.ID, nil)), http.StatusNotFound, "not_found")
	assertError(t, env.do(t, httptest.NewRequest("DELETE", "/posts/"+post.ID, nil)), http.StatusNotFound, "not_found")
	assertError(t, env.do(t, httptest.NewRequest("POST", "/posts/"+post.ID+"/dislike", nil)), http.StatusNotFound, "not_found")
}

func TestHandler_UpdatePost(t *testing.T) {
	env := newHandlerTestEnv(t)

	post, err := env.service.CreatePost(context.Background(), NewPost{
		Title:       "A",
		Content:     "B",
		AuthorID:    "u1",
		CategoryIDs: []string{"c1"},
	}, MediaInputs{})
	require.NoError(t, err)

	rr := env.do(t, jsonRequest(t, "PUT", "/posts/"+post.ID, map[string]string{"title": "X"}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[Post](t, rr)
	assert.Equal(t, "X", updated.Title)
	assert.Equal(t, "B", updated.Content)
	assert.Equal(t, []string{"c1"}, updated.CategoryIDs)

	req := multipartRequest(t, "PUT", "/posts/"+post.ID,
		url.Values{"categories": {"c2,c3"}},
		multipartFile{"video", "clip.mp4", "mp4"},
	)
	rr = env.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated = decode[Post](t, rr)
	assert.Equal(t, "X", updated.Title)
	assert.Equal(t, []string{"c2", "c3"}, updated.CategoryIDs)
	assert.Equal(t, "https://media.test/blog_videos/clip.mp4", updated.Video)

	rr = env.do(t, jsonRequest(t, "PUT", "/posts/"+post.ID, map[string]string{"content": ""}))
	assertError(t, rr, http.StatusBadRequest, "validation_failed")

	rr = env.do(t, jsonRequest(t, "PUT", "/posts/nope", map[string]string{"title": "Y"}))
	assertError(t, rr, http.StatusNotFound, "not_found")
}

func TestHandler_ListPosts(t *testing.T) {
	env := newHandlerTestEnv(t)
	for i := 0; i < 4; i++ {
		_, err := env.service.CreatePost(context.Background(), NewPost{
			Title:    fmt.Sprintf("post %d", i),
			Content:  "content",
			AuthorID: "u1",
		}, MediaInputs{})
		require.NoError(t, err)
	}

	rr := env.do(t, httptest.NewRequest("GET", "/posts?page=2&size=3", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[PostsPage](t, rr)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Size)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "post 0", page.Posts[0].Title)

	assertError(t, env.do(t, httptest.NewRequest("GET", "/posts?page=x", nil)), http.StatusBadRequest, "validation_failed")
	assertError(t, env.do(t, httptest.NewRequest("GET", "/posts?size=1000", nil)), http.StatusBadRequest, "validation_failed")
}

func TestHandler_References(t *testing.T) {
	env := newHandlerTestEnv(t)

	rr := env.do(t, jsonRequest(t, "POST", "/categories", map[string]string{"name": "golang"}))
	require.Equal(t, http.StatusCreated, rr.Code)
	category := decode[Category](t, rr)

	rr = env.do(t, jsonRequest(t, "POST", "/categories", map[string]string{"name": "golang"}))
	assertError(t, rr, http.StatusBadRequest, "validation_failed")

	rr = env.do(t, httptest.NewRequest("GET", "/categories", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]Category](t, rr), 1)

	form := url.Values{"name": {"Ada"}, "email": {"ada@example.com"}}
	req := httptest.NewRequest("POST", "/authors", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = env.do(t, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	author := decode[Author](t, rr)
	assert.Equal(t, "Ada", author.Name)

	rr = env.do(t, httptest.NewRequest("GET", "/authors/"+author.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ada@example.com", decode[Author](t, rr).Email)
	assertError(t, env.do(t, httptest.NewRequest("GET", "/authors/nope", nil)), http.StatusNotFound, "not_found")

	rr = env.do(t, httptest.NewRequest("GET", "/authors", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]Author](t, rr), 1)

	// resolved on read
	rr = env.do(t, jsonRequest(t, "POST", "/posts", map[string]any{
		"title":      "A",
		"content":    "B",
		"author":     author.ID,
		"categories": []string{category.ID},
	}))
	require.Equal(t, http.StatusCreated, rr.Code)
	post := decode[Post](t, rr)
	require.NotNil(t, post.Author)
	assert.Equal(t, "Ada", post.Author.Name)
	require.Len(t, post.Categories, 1)
	assert.Equal(t, "golang", post.Categories[0].Name)

	rr = env.do(t, httptest.NewRequest("DELETE", "/categories/"+category.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assertError(t, env.do(t, httptest.NewRequest("DELETE", "/categories/"+category.ID, nil)), http.StatusNotFound, "not_found")
}

type denyingRateLimiter struct{}

func (denyingRateLimiter) Allow(_ context.Context, _ string, _ redis_rate.Limit) (*redis_rate.Result, error) {
	return &redis_rate.Result{Allowed: 0, RetryAfter: 30 * time.Second}, nil
}

func TestHandler_VisitorRoutesRateLimited(t *testing.T) {
	env := newServiceTestEnv(t)
	r := mux.NewRouter()
	NewHandler(env.service, 1<<20, t.TempDir()).SetupRoutes(r, denyingRateLimiter{}, env.metrics, 10)

	post, err := env.service.CreatePost(context.Background(), NewPost{Title: "A", Content: "B", AuthorID: "u1"}, MediaInputs{})
	require.NoError(t, err)

	for _, path := range []string{"/posts/" + post.ID + "/like", "/posts/" + post.ID + "/comments"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, jsonRequest(t, "POST", path, map[string]string{"author": "u2", "content": "spam"}))
		assertError(t, rr, http.StatusTooManyRequests, "rate_limited")
	}

	// admin routes are not limited
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/posts/"+post.ID, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
