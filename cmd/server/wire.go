package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twmb/franz-go/pkg/kgo"

	"certdesk/internal/admin"
	catalogcache "certdesk/internal/catalog/cache"
	cataloghandler "certdesk/internal/catalog/handler"
	catalogservice "certdesk/internal/catalog/service"
	catalogstore "certdesk/internal/catalog/store"
	requesthandler "certdesk/internal/certrequest/handler"
	requestmetrics "certdesk/internal/certrequest/metrics"
	requestservice "certdesk/internal/certrequest/service"
	requeststore "certdesk/internal/certrequest/store"
	jwttoken "certdesk/internal/jwt_token"
	"certdesk/internal/notify"
	"certdesk/internal/objectstore"
	otphandler "certdesk/internal/otp/handler"
	otpservice "certdesk/internal/otp/service"
	otpstore "certdesk/internal/otp/store"
	"certdesk/internal/platform/config"
	"certdesk/internal/platform/kafka"
	"certdesk/internal/platform/metrics"
	"certdesk/internal/platform/postgres"
	platformredis "certdesk/internal/platform/redis"
	"certdesk/internal/policy"
	"certdesk/internal/ratelimit"
	ratelimitmetrics "certdesk/internal/ratelimit/metrics"
	ratelimitmw "certdesk/internal/ratelimit/middleware"
	"certdesk/pkg/platform/audit"
	"certdesk/pkg/platform/audit/publisher"
	"certdesk/pkg/platform/audit/retention"
	auditkafka "certdesk/pkg/platform/audit/store/kafka"
	auditmemory "certdesk/pkg/platform/audit/store/memory"
	auditpostgres "certdesk/pkg/platform/audit/store/postgres"
	"certdesk/pkg/platform/circuit"
	"certdesk/pkg/platform/httputil"
	"certdesk/pkg/platform/middleware/auth"
	"certdesk/pkg/platform/middleware/metadata"
	"certdesk/pkg/platform/middleware/request"
	"certdesk/pkg/platform/middleware/requesttime"
)

// application holds the long-lived dependencies of one process.
type application struct {
	log *slog.Logger

	db    *sql.DB
	redis *platformredis.Client
	kafka *kgo.Client

	audit      *publisher.Publisher
	sweeper    *retention.Sweeper
	dispatcher *notify.Dispatcher
	limiter    *ratelimitmw.Middleware
	tokens     *jwttoken.JWTService
	http       *metrics.Metrics
	// files serves in-memory uploads; nil when Cloudinary is configured.
	files *objectstore.Memory

	catalog  *cataloghandler.Handler
	requests *requesthandler.Handler
	otp      *otphandler.Handler
	admin    *admin.Handler
}

type stores struct {
	catalog  catalogservice.Store
	loader   catalogcache.Loader
	requests requestservice.Store
	audit    audit.Store
	expirer  retention.Expirer
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{log: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	st, err := app.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.redis, err = platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	sinks := audit.Fanout{st.audit}
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		kcfg := kafka.Config{
			Brokers:         brokers,
			Topic:           cfg.Kafka.AuditTopic,
			Partitions:      int32(cfg.Kafka.Partitions),
			DeliveryTimeout: cfg.Audit.AppendTimeout,
		}
		app.kafka, err = kafka.NewProducer(ctx, kcfg)
		if err != nil {
			return nil, err
		}
		if err := kafka.EnsureTopic(ctx, app.kafka, kcfg); err != nil {
			return nil, err
		}
		sinks = append(sinks, auditkafka.NewSink(app.kafka, cfg.Kafka.AuditTopic))
		log.Info("audit entries mirrored to kafka", "topic", cfg.Kafka.AuditTopic)
	}
	auditMetrics := audit.NewMetrics()
	app.audit = publisher.NewPublisher(sinks,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithAppendTimeout(cfg.Audit.AppendTimeout),
		publisher.WithLogger(log),
		publisher.WithMetrics(auditMetrics),
		publisher.WithBreaker(circuit.New("audit")),
	)
	if st.expirer != nil {
		app.sweeper = retention.New(st.expirer,
			retention.WithSchedule(cfg.Audit.SweepSchedule),
			retention.WithLogger(log),
			retention.WithMetrics(auditMetrics),
		)
	}

	var sender notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.SendGridAPIKey != "" {
		sender = notify.NewSendGridNotifier(cfg.Notify.SendGridAPIKey, cfg.Notify.FromName, cfg.Notify.FromAddress)
	} else {
		log.Warn("SENDGRID_API_KEY not set, notifications are logged only")
	}
	app.dispatcher = notify.NewDispatcher(sender,
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics()),
		notify.WithBreaker(circuit.New("notify")),
		notify.WithSendTimeout(cfg.Notify.SendTimeout),
		notify.WithQueueSize(cfg.Notify.QueueSize),
	)

	catalogOpts := []catalogservice.Option{
		catalogservice.WithLogger(log),
		catalogservice.WithAuditPublisher(app.audit),
	}
	if app.redis != nil {
		catalogOpts = append(catalogOpts, catalogservice.WithCache(
			catalogcache.New(app.redis, st.loader, catalogcache.WithTTL(cfg.Catalog.CacheTTL), catalogcache.WithLogger(log)),
		))
	}
	catalog, err := catalogservice.New(st.catalog, catalogOpts...)
	if err != nil {
		return nil, err
	}

	engine, err := requestservice.New(st.requests, catalog,
		requestservice.WithLogger(log),
		requestservice.WithAuditPublisher(app.audit),
		requestservice.WithNotifier(app.dispatcher),
		requestservice.WithMetrics(requestmetrics.New()),
	)
	if err != nil {
		return nil, err
	}

	var codes otpservice.Store = otpstore.NewInMemory()
	if app.redis != nil {
		codes = otpstore.NewRedis(app.redis)
	}
	otp, err := otpservice.New(codes, app.dispatcher,
		otpservice.WithTTL(cfg.OTP.TTL),
		otpservice.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	adminService, err := admin.NewService(app.audit, cfg.Audit.AdminListLimit)
	if err != nil {
		return nil, err
	}

	var uploads objectstore.Store
	if cfg.Storage.CloudinaryEnabled() {
		uploads = objectstore.NewCloudinary(objectstore.CloudinaryConfig{
			CloudName: cfg.Storage.CloudinaryCloud,
			APIKey:    cfg.Storage.CloudinaryKey,
			APISecret: cfg.Storage.CloudinarySecret,
			Folder:    cfg.Storage.CloudinaryFolder,
			Timeout:   cfg.Storage.UploadTimeout,
		})
	} else {
		app.files = objectstore.NewMemory(localFilesURL(cfg.Server.Addr))
		uploads = app.files
		log.Warn("cloudinary not configured, uploads are kept in memory")
	}

	app.tokens = jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	app.limiter = ratelimitmw.New(
		ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		log,
		ratelimitmw.WithMetrics(ratelimitmetrics.New()),
	)
	app.http = metrics.New()

	app.catalog = cataloghandler.New(catalog, log)
	app.requests = requesthandler.New(engine, uploads, objectstore.ImagePolicy(cfg.Storage.MaxUploadBytes), log)
	app.otp = otphandler.New(otp, log)
	app.admin = admin.NewHandler(adminService, log)
	return app, nil
}

func (app *application) openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.Server.InMemory {
		app.log.Warn("running with in-memory stores, data is lost on restart")
		cat := catalogstore.NewInMemory()
		return stores{
			catalog:  cat,
			loader:   cat,
			requests: requeststore.NewInMemory(),
			audit:    auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		URL:             cfg.Postgres.URL,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return stores{}, err
	}
	app.db = db
	if err := postgres.Migrate(db); err != nil {
		return stores{}, err
	}
	cat := catalogstore.NewPostgres(db)
	auditStore := auditpostgres.New(db, cfg.Audit.Retention)
	return stores{
		catalog:  cat,
		loader:   cat,
		requests: requeststore.NewPostgres(db),
		audit:    auditStore,
		expirer:  auditStore,
	}, nil
}

func (app *application) router(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recover(app.log))
	r.Use(request.AccessLog(app.log))
	r.Use(app.http.Middleware)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	if app.files != nil {
		r.Handle(localFilesPath+"/*", http.StripPrefix(localFilesPath, app.files))
	}

	requireAuth := auth.RequireAuth(jwttoken.NewAdapter(app.tokens), func(role string) error {
		_, err := policy.ParseRole(role)
		return err
	}, app.log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(app.limiter.RateLimit)
			app.otp.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(app.limiter.RateLimit)
			app.catalog.Register(r)
			app.requests.Register(r)
			app.admin.Register(r)
		})
	})
	return r
}

func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if app.db != nil {
		checks["postgres"] = status(app.db.PingContext(ctx), &healthy)
	}
	if app.redis != nil {
		checks["redis"] = status(app.redis.Health(ctx), &healthy)
	}
	if app.kafka != nil {
		checks["kafka"] = status(app.kafka.Ping(ctx), &healthy)
	}

	code, msg := http.StatusOK, "ok"
	if !healthy {
		code, msg = http.StatusServiceUnavailable, "degraded"
	}
	httputil.WriteJSON(w, code, httputil.Envelope{Success: healthy, Message: msg, Data: checks})
}

const localFilesPath = "/files"

func localFilesURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + localFilesPath
}

func status(err error, healthy *bool) string {
	if err != nil {
		*healthy = false
		return fmt.Sprintf("down: %v", err)
	}
	return "up"
}

// runBackground blocks until ctx ends.
func (app *application) runBackground(ctx context.Context) {
	if app.sweeper != nil {
		if err := app.sweeper.Start(ctx); err != nil {
			app.log.Error("audit retention sweep not scheduled", "error", err)
		}
	}
	every(ctx, time.Minute, app.limiter.Sweep)
}

// close releases resources in reverse dependency order.
func (app *application) close() {
	if app.sweeper != nil {
		app.sweeper.Stop()
	}
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if app.audit != nil {
		app.audit.Close()
	}
	if app.kafka != nil {
		app.kafka.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
