// Package wsserver is the transport edge: a Fiber HTTP server carrying the
// WebSocket endpoint plus a small read-only REST surface for discovery.
package wsserver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/watch-party-demo/modules/broadcast"
	"github.com/example/watch-party-demo/modules/chat"
	"github.com/example/watch-party-demo/modules/presence"
	"github.com/example/watch-party-demo/modules/rooms"
	"github.com/example/watch-party-demo/modules/signaling"
	"github.com/example/watch-party-demo/modules/stats"
)

// Module implements the WebSocket server module using Fiber framework.
type Module struct {
	app      *fiber.App
	handlers *Handlers
	addr     string

	presenceModule  *presence.Module
	chatModule      *chat.Module
	signalingModule *signaling.Module
	statsModule     *stats.Module
	registry        *rooms.Registry
	hub             *broadcast.Hub
	logger          types.Logger
}

// NewModule creates a new WebSocket server module.
func NewModule(
	addr string,
	presenceModule *presence.Module,
	chatModule *chat.Module,
	signalingModule *signaling.Module,
	statsModule *stats.Module,
	registry *rooms.Registry,
	moduleLogger types.Logger,
) *Module {
	return &Module{
		addr:            addr,
		presenceModule:  presenceModule,
		chatModule:      chatModule,
		signalingModule: signalingModule,
		statsModule:     statsModule,
		registry:        registry,
		logger:          moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "ws-server"
}

// SetHub injects the broadcast hub. Must be called before Start.
func (m *Module) SetHub(hub *broadcast.Hub) {
	m.hub = hub
}

// Start initializes and starts the WebSocket server.
func (m *Module) Start(ctx context.Context) error {
	if m.hub == nil {
		return fmt.Errorf("broadcast hub not set")
	}

	// Create Fiber app with custom config
	m.app = fiber.New(fiber.Config{
		AppName:               "Watch Party Demo",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
	})

	// Add middleware
	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))

	// CORS configuration
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:8080"
	}
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	// Create handlers
	m.handlers = NewHandlers(
		m.presenceModule,
		m.chatModule,
		m.signalingModule,
		m.statsModule,
		m.registry,
		m.hub,
		m.logger,
	)

	// Register routes
	m.registerRoutes()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(m.addr); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		return fmt.Errorf("WebSocket server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
	}

	m.logger.Info("WebSocket server started", "addr", m.addr)
	return nil
}

// Stop gracefully shuts down the WebSocket server.
func (m *Module) Stop(ctx context.Context) error {
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	m.logger.Info("WebSocket server stopped")
	return nil
}

// registerRoutes sets up all HTTP and WebSocket routes.
func (m *Module) registerRoutes() {
	// Health check
	m.app.Get("/health", m.handlers.HealthCheck)

	// WebSocket upgrade middleware
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket endpoint
	m.app.Get("/ws", websocket.New(m.handlers.HandleWebSocket))

	// REST API routes
	api := m.app.Group("/api/v1")
	api.Get("/rooms", m.handlers.ListRooms)
	api.Get("/rooms/:id", m.handlers.GetRoom)
	api.Get("/stats", m.handlers.GetStats)
}

// errorHandler handles errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	m.logger.Error("HTTP error", "code", code, "message", message, "error", err)

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
