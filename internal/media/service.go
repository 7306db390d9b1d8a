package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/internal/telemetry/tracing"
)

const DefaultUploadTimeout = 60 * time.Second

// Service uploads staged files through the configured Uploader.
type Service struct {
	uploader       Uploader
	timeout        time.Duration
	metricsManager *metrics.Manager
}

func NewService(uploader Uploader, timeout time.Duration, metricsManager *metrics.Manager) *Service {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &Service{
		uploader:       uploader,
		timeout:        timeout,
		metricsManager: metricsManager,
	}
}

// Upload pushes the staged file to the media host and returns its URL.
// The staged temp file is removed whatever the outcome, and every
// failure (including the upload timeout) is reported as ErrUploadFailed.
func (s *Service) Upload(ctx context.Context, file *StagedFile) (_ string, err error) {
	if file == nil {
		return "", fmt.Errorf("%w: no file", ErrUploadFailed)
	}
	defer file.Cleanup()

	ctx, span := tracing.GlobalTracer.Start(ctx, "service.media.upload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("media.slot", file.Slot.String()),
		attribute.String("media.name", file.OriginalName),
		attribute.Int64("media.size", file.Size),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	begin := time.Now()
	res, err := s.uploader.Upload(ctx, file.Path, OptionsForSlot(file.Slot, file.OriginalName))
	s.observe(file.Slot, begin, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s upload timed out after %s", ErrUploadFailed, file.Slot, s.timeout)
		}
		if errors.Is(err, ErrUploadFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %w", ErrUploadFailed, file.Slot, err)
	}
	if res == nil || res.SecureURL == "" {
		return "", fmt.Errorf("%w: %s: no url returned", ErrUploadFailed, file.Slot)
	}

	log.Debugf("media: %s [%s] uploaded: %s", file.Slot, file.OriginalName, res.SecureURL)

	return res.SecureURL, nil
}

func (s *Service) observe(slot Slot, begin time.Time, err error) {
	if s.metricsManager == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	s.metricsManager.CounterUploads.WithLabelValues(slot.String(), status).Inc()
	s.metricsManager.HistUploadDuration.WithLabelValues(slot.String()).Observe(time.Since(begin).Seconds())
}
