package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/illegalcall/emoji-maker/internal/config"
	"github.com/illegalcall/emoji-maker/internal/events"
	"github.com/illegalcall/emoji-maker/internal/lock"
	"github.com/illegalcall/emoji-maker/internal/models"
	"github.com/illegalcall/emoji-maker/internal/storage"
	"github.com/illegalcall/emoji-maker/internal/store"
	"github.com/illegalcall/emoji-maker/pkg/database"
)

// ImageGenerator turns a prompt into the URL of a generated image.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IdentityResolver maps an opaque access token to a user id. It is only
// needed with the supabase auth provider.
type IdentityResolver interface {
	ResolveUserID(token string) (string, error)
}

// Dependencies are the external collaborators of the API server.
type Dependencies struct {
	DB         *database.Clients
	Producer   sarama.SyncProducer // nil disables event publishing
	Objects    storage.ObjectStore
	Generator  ImageGenerator
	Identity   IdentityResolver
	HTTPClient *http.Client // used to fetch generated and uploaded images
}

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	db        *database.Clients
	store     *store.Store
	locker    *lock.Locker
	events    *events.Publisher
	objects   storage.ObjectStore
	fetcher   *storage.Fetcher
	generator ImageGenerator
	identity  IdentityResolver
	validate  *validator.Validate
	metrics   *metrics
}

func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.DB == nil || deps.DB.DB == nil {
		return nil, errors.New("database client is required")
	}
	if deps.Objects == nil {
		return nil, errors.New("object store is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("image generator is required")
	}
	if cfg.JWT.Provider == config.AuthProviderSupabase && deps.Identity == nil {
		return nil, errors.New("identity resolver is required for supabase auth")
	}

	app := fiber.New(fiber.Config{
		AppName:      "emoji-maker",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.MaxRequests,
		Expiration: cfg.Server.RequestTimeout,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{Error: "Too many requests"})
		},
	}))

	server := &Server{
		app:       app,
		cfg:       cfg,
		db:        deps.DB,
		store:     store.New(deps.DB.DB),
		events:    events.NewPublisher(deps.Producer, cfg.Kafka.Topic),
		objects:   deps.Objects,
		fetcher:   storage.NewFetcher(deps.HTTPClient, cfg.Storage.MaxSize, cfg.Storage.FetchRetries, cfg.Storage.RetryBackoff),
		generator: deps.Generator,
		identity:  deps.Identity,
		validate:  newValidator(),
		metrics:   newMetrics(),
	}
	if deps.DB.Redis != nil {
		server.locker = lock.NewLocker(deps.DB.Redis, cfg.Redis.LockTTL)
	}

	// Routes
	if err := server.setupRoutes(); err != nil {
		return nil, err
	}

	return server, nil
}

func (s *Server) setupRoutes() error {
	// Public routes
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.metrics.handler())
	if !s.cfg.IsProduction() && s.usesSharedSecret() {
		s.app.Post("/dev/token", s.handleDevToken)
	}

	requireAuth, err := s.authMiddleware()
	if err != nil {
		return err
	}

	// Protected routes
	api := s.app.Group("/api", requireAuth, s.loadProfile)
	api.Post("/generate-emoji", s.handleGenerateEmoji)
	api.Post("/upload-emoji", s.handleUploadEmoji)
	api.Post("/like-emoji", s.handleLikeEmoji)
	api.Post("/unlike-emoji", s.handleUnlikeEmoji)
	api.Get("/emojis", s.handleListEmojis)
	api.Delete("/delete-emoji/:id", s.handleDeleteEmoji)
	api.Post("/initialize-user", s.handleInitializeUser)

	if local, ok := s.objects.(*storage.LocalStorage); ok {
		s.app.Static("/uploads", local.Dir())
	}
	if s.cfg.Server.StaticDir != "" {
		s.app.Static("/", s.cfg.Server.StaticDir)
	}
	return nil
}

func (s *Server) Start() error {
	return s.app.Listen(s.cfg.Server.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every unhandled error as {error}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		slog.Error("Unhandled request error", "path", c.Path(), "requestID", c.GetRespHeader(fiber.HeaderXRequestID), "error", err)
	}
	return c.Status(code).JSON(models.ErrorResponse{Error: message})
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(models.ErrorResponse{Error: message})
}

// publish sends evt and logs failures. Events never fail a request.
func (s *Server) publish(ctx context.Context, evt models.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		slog.Error("Failed to publish event", "type", evt.Type, "emojiID", evt.EmojiID, "error", err)
	}
}
