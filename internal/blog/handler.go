package blog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/middleware"
	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

type deletedResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type Handler struct {
	service        *Service
	maxUploadBytes int64
	tempDir        string
}

func NewHandler(service *Service, maxUploadBytes int64, tempDir string) *Handler {
	return &Handler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		tempDir:        tempDir,
	}
}

// SetupRoutes registers the blog routes. Comments and reactions are open to visitors,
// so they are rate limited when a rate limiter is given.
func (handler *Handler) SetupRoutes(
	router *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	metricsManager *metrics.Manager,
	visitorsAllowedPerMin int,
) {
	visitorLimit := func(h http.HandlerFunc) http.Handler {
		if rateLimiter == nil {
			return h
		}
		return middleware.RateLimit(rateLimiter, "visitors", visitorsAllowedPerMin, metricsManager)(h)
	}

	router.HandleFunc("/posts", handler.handleNewPost).Methods("POST", "OPTIONS").Name("new-post")
	router.HandleFunc("/posts", handler.handleListPosts).Methods("GET").Name("posts-page")
	router.HandleFunc("/posts/{id}", handler.handleGetPost).Methods("GET").Name("get-post")
	router.HandleFunc("/posts/{id}", handler.handleUpdatePost).Methods("PUT", "OPTIONS").Name("update-post")
	router.HandleFunc("/posts/{id}", handler.handleDeletePost).Methods("DELETE", "OPTIONS").Name("delete-post")

	router.Handle("/posts/{id}/comments", visitorLimit(handler.handleAddComment)).Methods("POST", "OPTIONS").Name("add-comment")
	router.HandleFunc("/comments/{commentId}", handler.handleUpdateComment).Methods("PUT", "OPTIONS").Name("update-comment")
	router.HandleFunc("/posts/{id}/comments/{commentId}", handler.handleUpdateComment).Methods("PUT", "OPTIONS").Name("update-post-comment")
	router.HandleFunc("/posts/{id}/comments/{commentId}", handler.handleDeleteComment).Methods("DELETE", "OPTIONS").Name("delete-comment")

	router.Handle("/posts/{id}/like", visitorLimit(handler.handleLikePost)).Methods("POST", "OPTIONS").Name("like-post")
	router.Handle("/posts/{id}/dislike", visitorLimit(handler.handleDislikePost)).Methods("POST", "OPTIONS").Name("dislike-post")
	router.Handle("/comments/{commentId}/like", visitorLimit(handler.handleLikeComment)).Methods("POST", "OPTIONS").Name("like-comment")
	router.Handle("/comments/{commentId}/dislike", visitorLimit(handler.handleDislikeComment)).Methods("POST", "OPTIONS").Name("dislike-comment")
	router.Handle("/posts/{id}/comments/{commentId}/like", visitorLimit(handler.handleLikeComment)).Methods("POST", "OPTIONS").Name("like-post-comment")
	router.Handle("/posts/{id}/comments/{commentId}/dislike", visitorLimit(handler.handleDislikeComment)).Methods("POST", "OPTIONS").Name("dislike-post-comment")

	router.HandleFunc("/categories", handler.handleListCategories).Methods("GET").Name("categories")
	router.HandleFunc("/categories", handler.handleNewCategory).Methods("POST", "OPTIONS").Name("new-category")
	router.HandleFunc("/categories/{id}", handler.handleDeleteCategory).Methods("DELETE", "OPTIONS").Name("delete-category")

	router.HandleFunc("/authors", handler.handleListAuthors).Methods("GET").Name("authors")
	router.HandleFunc("/authors", handler.handleNewAuthor).Methods("POST", "OPTIONS").Name("new-author")
	router.HandleFunc("/authors/{id}", handler.handleGetAuthor).Methods("GET").Name("get-author")
}

func (handler *Handler) handleNewPost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.newPost")
	defer span.End()

	defer removeMultipartForm(r)
	req, mediaInputs, err := handler.readPostRequest(w, r)
	if err != nil {
		log.Errorf("new post, read request: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid post request")
		return
	}

	post, err := handler.service.CreatePost(ctx, req.toNewPost(), mediaInputs)
	if err != nil {
		writeServiceError(w, "new post", err)
		return
	}

	log.Tracef("new post %s: [%s] added", post.ID, post.Title)
	pkg.WriteJSON(w, post, http.StatusCreated)
}

func (handler *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.listPosts")
	defer span.End()

	page, err := queryInt(r, "page")
	if err != nil {
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid page")
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid size")
		return
	}

	postsPage, err := handler.service.ListPosts(ctx, Page{Page: page, Size: size})
	if err != nil {
		writeServiceError(w, "list posts", err)
		return
	}

	pkg.WriteJSON(w, postsPage, http.StatusOK)
}

func (handler *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.getPost")
	defer span.End()

	post, err := handler.service.GetPost(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "get post", err)
		return
	}

	pkg.WriteJSON(w, post, http.StatusOK)
}

func (handler *Handler) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.updatePost")
	defer span.End()

	defer removeMultipartForm(r)
	req, mediaInputs, err := handler.readPostRequest(w, r)
	if err != nil {
		log.Errorf("update post, read request: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid post request")
		return
	}

	post, err := handler.service.UpdatePost(ctx, mux.Vars(r)["id"], req.toPatch(), mediaInputs)
	if err != nil {
		writeServiceError(w, "update post", err)
		return
	}

	pkg.WriteJSON(w, post, http.StatusOK)
}

func (handler *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.deletePost")
	defer span.End()

	id := mux.Vars(r)["id"]
	if err := handler.service.DeletePost(ctx, id); err != nil {
		writeServiceError(w, "delete post", err)
		return
	}

	pkg.WriteJSON(w, deletedResponse{Message: "post deleted", ID: id}, http.StatusOK)
}

func (handler *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.addComment")
	defer span.End()

	req, err := readCommentRequest(r)
	if err != nil {
		log.Errorf("add comment, read request: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid comment request")
		return
	}

	comment, err := handler.service.AddComment(ctx, mux.Vars(r)["id"], NewComment{
		AuthorID: req.Author,
		Content:  req.Content,
	})
	if err != nil {
		writeServiceError(w, "add comment", err)
		return
	}

	pkg.WriteJSON(w, comment, http.StatusCreated)
}

func (handler *Handler) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.updateComment")
	defer span.End()

	req, err := readCommentRequest(r)
	if err != nil {
		log.Errorf("update comment, read request: %s", err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid comment request")
		return
	}

	post, err := handler.service.UpdateComment(ctx, commentRef(r), req.Content)
	if err != nil {
		writeServiceError(w, "update comment", err)
		return
	}

	pkg.WriteJSON(w, post, http.StatusOK)
}

func (handler *Handler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.deleteComment")
	defer span.End()

	ref := commentRef(r)
	if err := handler.service.DeleteComment(ctx, ref); err != nil {
		writeServiceError(w, "delete comment", err)
		return
	}

	pkg.WriteJSON(w, deletedResponse{Message: "comment deleted", ID: ref.CommentID}, http.StatusOK)
}

func (handler *Handler) handleLikePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.likePost")
	defer span.End()

	post, err := handler.service.LikePost(ctx, mux.Vars(r)["id"])
	handler.writePost(w, "like post", post, err)
}

func (handler *Handler) handleDislikePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.dislikePost")
	defer span.End()

	post, err := handler.service.DislikePost(ctx, mux.Vars(r)["id"])
	handler.writePost(w, "dislike post", post, err)
}

func (handler *Handler) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.likeComment")
	defer span.End()

	post, err := handler.service.LikeComment(ctx, commentRef(r))
	handler.writePost(w, "like comment", post, err)
}

func (handler *Handler) handleDislikeComment(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "blogHandler.dislikeComment")
	defer span.End()

	post, err := handler.service.DislikeComment(ctx, commentRef(r))
	handler.writePost(w, "dislike comment", post, err)
}

func (handler *Handler) writePost(w http.ResponseWriter, op string, post *Post, err error) {
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	pkg.WriteJSON(w, post, http.StatusOK)
}

func (handler *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := handler.service.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, "list categories", err)
		return
	}
	pkg.WriteJSON(w, categories, http.StatusOK)
}

func (handler *Handler) handleNewCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid category request")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid category request")
			return
		}
		req.Name = r.PostForm.Get("name")
	}

	category, err := handler.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, "new category", err)
		return
	}
	pkg.WriteJSON(w, category, http.StatusCreated)
}

func (handler *Handler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := handler.service.DeleteCategory(r.Context(), id); err != nil {
		writeServiceError(w, "delete category", err)
		return
	}
	pkg.WriteJSON(w, deletedResponse{Message: "category deleted", ID: id}, http.StatusOK)
}

func (handler *Handler) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := handler.service.ListAuthors(r.Context())
	if err != nil {
		writeServiceError(w, "list authors", err)
		return
	}
	pkg.WriteJSON(w, authors, http.StatusOK)
}

func (handler *Handler) handleNewAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid author request")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", "invalid author request")
			return
		}
		req = authorRequest{
			Name:   r.PostForm.Get("name"),
			Email:  r.PostForm.Get("email"),
			Bio:    r.PostForm.Get("bio"),
			Avatar: r.PostForm.Get("avatar"),
		}
	}

	author, err := handler.service.CreateAuthor(r.Context(), NewAuthor(req))
	if err != nil {
		writeServiceError(w, "new author", err)
		return
	}
	pkg.WriteJSON(w, author, http.StatusCreated)
}

func (handler *Handler) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	author, err := handler.service.GetAuthor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, "get author", err)
		return
	}
	pkg.WriteJSON(w, author, http.StatusOK)
}

// writeServiceError maps the blog error taxonomy to a status and a stable error code.
// Internal error details are only logged.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		log.Tracef("%s: %s", op, err)
		pkg.WriteErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrValidation):
		log.Tracef("%s: %s", op, err)
		pkg.WriteErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, ErrUploadFailed):
		log.Errorf("%s: %s", op, err)
		pkg.WriteErrorResponse(w, http.StatusBadGateway, "upload_failed", "media upload failed")
	case errors.Is(err, ErrStoreUnavailable):
		log.Errorf("%s: %s", op, err)
		pkg.WriteErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", "store unavailable, try again later")
	default:
		log.Errorf("%s: %s", op, err)
		pkg.WriteErrorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func commentRef(r *http.Request) CommentRef {
	vars := mux.Vars(r)
	return CommentRef{
		PostID:    vars["id"],
		CommentID: vars["commentId"],
	}
}

// queryInt returns 0 when the parameter is missing.
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func removeMultipartForm(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		log.Warnf("remove multipart form files: %s", err)
	}
}
