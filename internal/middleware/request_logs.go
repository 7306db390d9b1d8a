package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/pkg"
)

const requestLogWriteTimeout = 10 * time.Second

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type RequestLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration"`
	Service    string    `json:"service"`
}

// RequestLogShipper sends one log entry per request to kafka, off the request path.
// Failures are logged and counted, never surfaced to the client.
type RequestLogShipper struct {
	writer         MessageWriter
	serviceName    string
	metricsManager *metrics.Manager
	inFlight       sync.WaitGroup
}

func NewRequestLogShipper(writer MessageWriter, serviceName string, metricsManager *metrics.Manager) *RequestLogShipper {
	return &RequestLogShipper{
		writer:         writer,
		serviceName:    serviceName,
		metricsManager: metricsManager,
	}
}

func (s *RequestLogShipper) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			resp := &responseWriter{w, http.StatusOK}

			next.ServeHTTP(resp, r)

			ip, err := pkg.ClientIP(r)
			if err != nil {
				ip = r.RemoteAddr
			}
			entry := RequestLogEntry{
				Timestamp:  time.Now(),
				IP:         ip,
				StatusCode: resp.Status(),
				RequestID:  GetRequestID(r.Context()),
				Method:     r.Method,
				Path:       r.URL.Path,
				Duration:   time.Since(start).Seconds(),
				Service:    s.serviceName,
			}

			s.inFlight.Add(1)
			go func() {
				defer s.inFlight.Done()
				shipRequestLog(s.writer, entry, s.metricsManager)
			}()
		})
	}
}

// Wait blocks until every started shipment is done, or ctx expires.
// The writer must not be closed before it returns.
func (s *RequestLogShipper) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shipRequestLog(writer MessageWriter, entry RequestLogEntry, metricsManager *metrics.Manager) {
	entryJson, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("[request logs] marshal entry for request %s: %s", entry.RequestID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestLogWriteTimeout)
	defer cancel()

	status := "ok"
	if err := writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.RequestID),
		Value: entryJson,
	}); err != nil {
		status = "failed"
		log.Errorf("[request logs] write to kafka: %s", err)
	} else {
		log.Tracef("[request logs] entry sent to kafka, request_id: %s", entry.RequestID)
	}

	if metricsManager != nil {
		metricsManager.CounterRequestLogsShipped.WithLabelValues(status).Inc()
	}
}
