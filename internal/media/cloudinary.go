package media

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/portfolio/internal/telemetry/tracing"
)

var _ Uploader = (*CloudinaryUploader)(nil)

type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, uploadParams uploader.UploadParams) (*uploader.UploadResult, error)
}

type CloudinaryUploader struct {
	api cloudinaryAPI
}

func NewCloudinaryUploader(cloudName, apiKey, apiSecret string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("new cloudinary client: %w", err)
	}
	cld.Upload.Client = http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &CloudinaryUploader{
		api: &cld.Upload,
	}, nil
}

func (u *CloudinaryUploader) Upload(ctx context.Context, localPath string, opts UploadOptions) (_ *UploadResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "cloudinary.upload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	res, err := u.api.Upload(ctx, localPath, uploader.UploadParams{
		Folder:         opts.Folder,
		ResourceType:   opts.ResourceType,
		UseFilename:    api.Bool(opts.Filename != ""),
		UniqueFilename: api.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cloudinary: %w", ErrUploadFailed, err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("%w: cloudinary: %s", ErrUploadFailed, res.Error.Message)
	}

	return &UploadResult{
		SecureURL: res.SecureURL,
	}, nil
}
