package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

var _ Uploader = (*DiskStore)(nil)

// FilesRoutePrefix is where the disk store files are served from.
const FilesRoutePrefix = "/media/files"

// DiskStore keeps media on the local disk, grouped by folder.
type DiskStore struct {
	rootPath      string
	publicBaseURL string
}

func NewDiskStore(rootPath, publicBaseURL string) (*DiskStore, error) {
	if rootPath == "" {
		return nil, errors.New("root path cannot be empty")
	}
	if err := pkg.EnsureDir(rootPath); err != nil {
		return nil, fmt.Errorf("ensure media root dir: %w", err)
	}
	return &DiskStore{
		rootPath:      rootPath,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}, nil
}

func NewId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (ds *DiskStore) Upload(ctx context.Context, localPath string, opts UploadOptions) (_ *UploadResult, err error) {
	_, span := tracing.GlobalTracer.Start(ctx, "diskStore.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !validName(opts.Folder) {
		return nil, fmt.Errorf("%w: folder %q", ErrInvalidFile, opts.Folder)
	}
	span.SetAttributes(attribute.String("file.folder", opts.Folder))

	folderPath := filepath.Join(ds.rootPath, opts.Folder)
	if err := pkg.EnsureDir(folderPath); err != nil {
		return nil, fmt.Errorf("ensure folder %s: %w", opts.Folder, err)
	}

	name := NewId() + strings.ToLower(filepath.Ext(opts.Filename))
	if err := copyFile(ctx, localPath, filepath.Join(folderPath, name)); err != nil {
		return nil, err
	}

	log.Debugf("disk store: file [%s] saved to %s", opts.Filename, opts.Folder)

	return &UploadResult{
		SecureURL: ds.publicBaseURL + path.Join(FilesRoutePrefix, url.PathEscape(opts.Folder), url.PathEscape(name)),
	}, nil
}

// FilePath returns the local path of a stored file.
func (ds *DiskStore) FilePath(folder, name string) (string, error) {
	if !validName(folder) || !validName(name) {
		return "", ErrInvalidFile
	}
	p := filepath.Join(ds.rootPath, folder, name)
	exists, err := pkg.PathExists(p, false)
	if err != nil || !exists {
		return "", ErrFileNotFound
	}
	return p, nil
}

func validName(name string) bool {
	return name != "" &&
		name != "." &&
		name != ".." &&
		!strings.ContainsAny(name, `/\`)
}

func copyFile(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
