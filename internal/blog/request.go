package blog

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/2beens/portfolio/internal/media"
	"github.com/2beens/portfolio/pkg"
)

const multipartMemory = 32 << 20

// postRequest carries the text fields of a create or update request;
// nil means the field was not sent.
type postRequest struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Author     *string   `json:"author"`
	Categories *[]string `json:"categories"`
}

func (pr postRequest) toNewPost() NewPost {
	np := NewPost{
		Title:    deref(pr.Title),
		Content:  deref(pr.Content),
		AuthorID: deref(pr.Author),
	}
	if pr.Categories != nil {
		np.CategoryIDs = *pr.Categories
	}
	return np
}

func (pr postRequest) toPatch() PostPatch {
	return PostPatch{
		Title:       pr.Title,
		Content:     pr.Content,
		CategoryIDs: pr.Categories,
	}
}

type commentRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

type authorRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Bio    string `json:"bio"`
	Avatar string `json:"avatar"`
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == pkg.ContentType.JSON
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readPostRequest reads a JSON, urlencoded or multipart post request.
// Files of a multipart request are staged into temp files owned by the returned MediaInputs.
func (handler *Handler) readPostRequest(w http.ResponseWriter, r *http.Request) (postRequest, MediaInputs, error) {
	var req postRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return postRequest{}, MediaInputs{}, fmt.Errorf("decode json: %w", err)
		}
		return req, MediaInputs{}, nil
	}

	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, handler.maxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return postRequest{}, MediaInputs{}, fmt.Errorf("parse multipart form: %w", err)
		}
		mediaInputs, err := handler.stageFiles(r)
		if err != nil {
			return postRequest{}, MediaInputs{}, err
		}
		return postRequestFromValues(r.MultipartForm.Value), mediaInputs, nil
	}

	if err := r.ParseForm(); err != nil {
		return postRequest{}, MediaInputs{}, fmt.Errorf("parse form: %w", err)
	}
	return postRequestFromValues(r.PostForm), MediaInputs{}, nil
}

func postRequestFromValues(values url.Values) postRequest {
	get := func(key string) *string {
		vs, ok := values[key]
		if !ok || len(vs) == 0 {
			return nil
		}
		v := vs[0]
		return &v
	}

	req := postRequest{
		Title:   get("title"),
		Content: get("content"),
		Author:  get("author"),
	}

	categories, ok := values["categories"]
	if !ok {
		categories, ok = values["categories[]"]
	}
	if ok {
		var ids []string
		for _, c := range categories {
			// "a,b" is accepted as well as repeated fields
			for _, id := range strings.Split(c, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
		if ids == nil {
			ids = []string{}
		}
		req.Categories = &ids
	}

	return req
}

func (handler *Handler) stageFiles(r *http.Request) (mi MediaInputs, err error) {
	defer func() {
		if err != nil {
			mi.Cleanup()
			mi = MediaInputs{}
		}
	}()

	files := r.MultipartForm.File
	stageFirst := func(field string, slot media.Slot) (*media.StagedFile, error) {
		if len(files[field]) == 0 {
			return nil, nil
		}
		return media.StageMultipart(files[field][0], slot, handler.tempDir)
	}

	if mi.Image, err = stageFirst("image", media.SlotImage); err != nil {
		return mi, err
	}
	if mi.Video, err = stageFirst("video", media.SlotVideo); err != nil {
		return mi, err
	}
	if mi.Audio, err = stageFirst("audio", media.SlotAudio); err != nil {
		return mi, err
	}

	documentHeaders := files["documents"]
	if len(documentHeaders) == 0 {
		documentHeaders = files["documents[]"]
	}
	for _, fh := range documentHeaders {
		staged, err := media.StageMultipart(fh, media.SlotDocument, handler.tempDir)
		if err != nil {
			return mi, err
		}
		mi.Documents = append(mi.Documents, staged)
	}

	return mi, nil
}

func readCommentRequest(r *http.Request) (commentRequest, error) {
	var req commentRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return commentRequest{}, fmt.Errorf("decode json: %w", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return commentRequest{}, fmt.Errorf("parse form: %w", err)
	}
	return commentRequest{
		Author:  r.PostForm.Get("author"),
		Content: r.PostForm.Get("content"),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
