package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/2beens/portfolio/internal/auth"
	"github.com/2beens/portfolio/internal/blog"
	"github.com/2beens/portfolio/internal/cache"
	"github.com/2beens/portfolio/internal/config"
	"github.com/2beens/portfolio/internal/db"
	"github.com/2beens/portfolio/internal/media"
	"github.com/2beens/portfolio/internal/middleware"
	"github.com/2beens/portfolio/internal/telemetry/metrics"
	"github.com/2beens/portfolio/internal/telemetry/tracing"
	"github.com/2beens/portfolio/pkg"
)

const (
	serviceName         = "portfolio-backend"
	// leftovers of bigger request bodies are not read after a response
	drainBodyLimitBytes = 1 << 20
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	mongoClient *mongo.Client
	blogRepo    blog.Repo

	mediaService   *media.Service
	mediaDiskStore *media.DiskStore // set only for the disk media backend

	redisClient  *redis.Client
	loginChecker auth.Checker
	authService  *auth.Service

	requestLogsWriter *kafka.Writer // nil when kafka is not configured
	requestLogShipper *middleware.RequestLogShipper

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	AdminUsername           string
	AdminPasswordHash       string
	RedisPassword           string
	MongoUser               string
	MongoPassword           string
	CloudinaryAPIKey        string
	CloudinaryAPISecret     string
	GDriveCredentialsFile   string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	promRegistry := metrics.SetupPrometheus()
	metricsManager := metrics.NewManager("backend", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, serviceName, rdb)
	if err != nil {
		return nil, err
	}

	mongoClient, err := db.NewMongoClient(ctx, db.NewMongoClientParams{
		Host:             cfg.MongoHost,
		Port:             cfg.MongoPort,
		User:             params.MongoUser,
		Pass:             params.MongoPassword,
		AppName:          serviceName,
		TracingEnabled:   params.HoneycombTracingEnabled,
		ConnectionsGauge: metricsManager.GaugeMongoConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("new mongo client: %w", err)
	}

	if err := db.Ping(ctx, mongoClient); err != nil {
		log.Warnf("failed to ping mongo: %s", err)
	}

	mongoRepo := blog.NewMongoRepo(mongoClient.Database(cfg.MongoDBName))
	if err := mongoRepo.EnsureIndexes(ctx); err != nil {
		// not fatal, the store might come up later
		log.Errorf("ensure blog indexes: %s", err)
	}
	blogRepo := blog.NewCachedRepo(mongoRepo, cache.NewJSONCache(cache.DefaultSizeBytes, cache.DefaultTTL))

	authService := auth.NewAuthService(&auth.Admin{
		Username:     params.AdminUsername,
		PasswordHash: params.AdminPasswordHash,
	}, auth.DefaultTTL, rdb)
	go func() {
		ticker := time.NewTicker(time.Hour * 8)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				authService.PruneSessions(ctx)
			}
		}
	}()

	uploader, diskStore, err := newMediaUploader(ctx, cfg, params)
	if err != nil {
		return nil, fmt.Errorf("media uploader: %w", err)
	}
	log.Debugf("using media backend: %s", cfg.MediaBackend)

	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,

		mongoClient: mongoClient,
		blogRepo:    blogRepo,

		mediaService: media.NewService(
			uploader,
			time.Duration(cfg.MediaUploadTimeoutSec)*time.Second,
			metricsManager,
		),
		mediaDiskStore: diskStore,

		redisClient:  rdb,
		authService:  authService,
		loginChecker: auth.NewLoginChecker(auth.DefaultTTL, rdb),

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	if cfg.KafkaEnabled() {
		s.requestLogsWriter = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaRequestLogsTopic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			Async:                  true,
		}
		s.requestLogShipper = middleware.NewRequestLogShipper(s.requestLogsWriter, serviceName, metricsManager)
		log.Debugf("shipping request logs to kafka topic [%s]", cfg.KafkaRequestLogsTopic)
	}

	return s, nil
}

func newMediaUploader(
	ctx context.Context,
	cfg *config.Config,
	params NewServerParams,
) (media.Uploader, *media.DiskStore, error) {
	switch cfg.MediaBackend {
	case config.MediaBackendCloudinary:
		if params.CloudinaryAPIKey == "" || params.CloudinaryAPISecret == "" {
			return nil, nil, errors.New("cloudinary api key/secret not set")
		}
		uploader, err := media.NewCloudinaryUploader(cfg.CloudinaryCloudName, params.CloudinaryAPIKey, params.CloudinaryAPISecret)
		return uploader, nil, err
	case config.MediaBackendGDrive:
		if params.GDriveCredentialsFile == "" {
			return nil, nil, errors.New("google drive credentials file not set")
		}
		uploader, err := media.NewDriveUploader(ctx, params.GDriveCredentialsFile, cfg.GDriveRootFolderName)
		return uploader, nil, err
	default:
		diskStore, err := media.NewDiskStore(cfg.MediaDiskRootPath, cfg.MediaPublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return diskStore, diskStore, nil
	}
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	maxUploadBytes := s.config.MaxUploadSizeMB << 20
	tempDir := os.TempDir()
	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)

	blogService := blog.NewService(
		s.blogRepo,
		s.mediaService,
		s.metricsManager,
		blog.PageLimits{
			DefaultSize: s.config.DefaultPageSize,
			MaxSize:     s.config.MaxPageSize,
		},
	)
	blogHandler := blog.NewHandler(blogService, maxUploadBytes, tempDir)
	blogHandler.SetupRoutes(r, reqRateLimiter, s.metricsManager, s.config.ReactionsRateLimitAllowedPerMin)

	mediaHandler := media.NewHandler(s.mediaService, s.mediaDiskStore, maxUploadBytes, tempDir)
	mediaHandler.SetupRoutes(r)

	authHandler := auth.NewHandler(s.authService)
	authHandler.SetupRoutes(r, reqRateLimiter, s.metricsManager, s.config.LoginRateLimitAllowedPerMin)

	r.HandleFunc("/", s.handleRoot).Methods("GET").Name("root")
	r.HandleFunc("/version", s.handleVersion).Methods("GET").Name("version")

	// all the rest - unhandled paths
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.WriteErrorResponse(w, http.StatusNotFound, "not_found", "route not found")
	})

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.RequestID())
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	if s.requestLogShipper != nil {
		r.Use(s.requestLogShipper.Middleware())
	}
	r.Use(middleware.NewAuthMiddlewareHandler(s.loginChecker).AuthCheck())
	r.Use(middleware.DrainRequestBody(drainBodyLimitBytes))

	return r, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSON(w, map[string]string{"version": s.versionInfo}, http.StatusOK)
}

func (s *Server) Serve(host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler: router,
		Addr:    ipAndPort,
		// uploads can take a while
		WriteTimeout: 5 * time.Minute,
		ReadTimeout:  5 * time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{Registry: s.promRegistry}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	// stop taking requests first, the stores are still needed by in-flight ones
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.requestLogsWriter != nil {
		if err := s.requestLogShipper.Wait(ctx); err != nil {
			log.Errorf("request logs still in flight, closing kafka writer anyway: %s", err)
		}
		if err := s.requestLogsWriter.Close(); err != nil {
			log.Errorf("failed to close request logs kafka writer: %s", err)
		}
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.mongoClient != nil {
		log.Debugln("disconnecting mongo client ...")
		db.Disconnect(ctx, s.mongoClient)
		log.Debugln("mongo client disconnected")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
