package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/vieroc/vieroc-backend/internal/agents"
	"github.com/vieroc/vieroc-backend/internal/api"
	"github.com/vieroc/vieroc-backend/internal/catalog"
	"github.com/vieroc/vieroc-backend/internal/config"
	"github.com/vieroc/vieroc-backend/internal/database"
	"github.com/vieroc/vieroc-backend/internal/hotstore"
	"github.com/vieroc/vieroc-backend/internal/memory"
	"github.com/vieroc/vieroc-backend/internal/pipeline"
	"github.com/vieroc/vieroc-backend/internal/repository/postgres"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if os.Getenv("VIEROC_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Open the hot tier
	ttl := time.Duration(cfg.Memory.DefaultTTLSeconds) * time.Second
	store, err := hotstore.Open(context.Background(), cfg.Redis, ttl)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer store.Close()

	// Repositories
	turnRepo := postgres.NewTurnRepository(db.DB)
	sessionRepo := postgres.NewSessionRepository(db.DB)
	customerRepo := postgres.NewCustomerRepository(db.DB)
	productRepo := postgres.NewProductRepository(db.DB)

	// Analysis steps share one LLM runner
	clientCfg := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		clientCfg.BaseURL = cfg.LLM.BaseURL
	}
	runner := agents.NewRunner(openai.NewClientWithConfig(clientCfg), cfg.LLM.Model, logger)
	compactor := agents.NewCompactionSteps(runner)

	// Per-conversation memory managers, bounded with idle eviction
	managers := memory.NewManagerCache(func(conversationID string, userRef uuid.UUID) *memory.Manager {
		return memory.NewManager(
			conversationID, userRef,
			store.Buffer(conversationID), store.Scratch(conversationID),
			turnRepo, sessionRepo, customerRepo,
			compactor,
			memory.Options{
				MaxBufferMessages:   cfg.Memory.MaxBufferMessages,
				CompactionWatermark: cfg.Memory.CompactionWatermark,
			},
			logger,
		)
	}, 1000, 30*time.Minute, logger)

	offers := catalog.NewSource(productRepo, cfg.Catalog.DemoShopID, cfg.Catalog.UseDBCatalog, logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Steps{
		Intent:      agents.NewIntentStep(runner),
		Handoff:     agents.NewHandoffStep(runner),
		Route:       agents.NewRouteStep(runner),
		Requirement: agents.NewRequirementStep(runner),
		Stage:       agents.NewStageStep(runner),
		Profile:     agents.NewProfileStep(runner),
		Offer:       agents.NewOfferStep(runner),
		Sales:       agents.NewSalesStep(runner),
		Guardrail:   agents.NewGuardrailStep(runner),
	}, offers, logger)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Vieroc Backend",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api.SetupRoutes(app, &api.Deps{
		Managers:     managers,
		Orchestrator: orchestrator,
		Sessions:     sessionRepo,
		Turns:        turnRepo,
		Logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Vieroc Backend starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func getOrigins() string {
	origins := os.Getenv("VIEROC_CORS_ORIGINS")
	if origins == "" {
		return "http://localhost:5173,http://localhost:3000"
	}
	return origins
}
