package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/watch-party-demo/modules/broadcast"
	"github.com/example/watch-party-demo/modules/chat"
	"github.com/example/watch-party-demo/modules/presence"
	"github.com/example/watch-party-demo/modules/rooms"
	"github.com/example/watch-party-demo/modules/signaling"
	"github.com/example/watch-party-demo/modules/stats"
	"github.com/example/watch-party-demo/modules/wsserver"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Watch Party Demo - Fiber + EventBus Pubsub ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Room policy shared by all modules through the registry.
	registry := rooms.NewRegistry(rooms.NewOptions(
		rooms.WithHistoryLimit(getEnvInt("CHAT_HISTORY_LIMIT", 100)),
		rooms.WithGracePeriod(getEnvDuration("RECONNECT_GRACE_PERIOD", 30*time.Second)),
		rooms.WithMaxParticipants(getEnvInt("ROOM_MAX_PARTICIPANTS", 0)),
	))

	// Create modules
	moduleLogger := app.Logger()
	presenceModule := presence.NewModule(
		registry,
		getEnvDuration("RECONNECT_GRACE_PERIOD", 30*time.Second),
		moduleLogger,
	)
	chatModule := chat.NewModule(
		registry,
		getEnvInt("CHAT_RATE_LIMIT", chat.DefaultRateLimit),
		getEnvDuration("CHAT_RATE_WINDOW", chat.DefaultRateWindow),
		moduleLogger,
	)
	signalingModule := signaling.NewModule(registry, moduleLogger)
	statsModule := stats.NewModule(
		registry,
		getEnvDuration("STATS_INTERVAL", stats.DefaultInterval),
		moduleLogger,
	)
	broadcastModule := broadcast.NewModule()

	addr := ":" + getEnv("PORT", "3000")
	wsModule := wsserver.NewModule(
		addr,
		presenceModule,
		chatModule,
		signalingModule,
		statsModule,
		registry,
		moduleLogger,
	)

	// Inject the broadcast hub where it is needed directly.
	// (This is done manually because the hub is not exposed via ServiceContainer)
	wsModule.SetHub(broadcastModule.GetHub())
	statsModule.SetLiveness(broadcastModule.GetHub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - presence/chat/signaling/stats: Core domain (EventEmitterModules)
	// - broadcast: Event consumer (EventConsumerModule for WebSocket fan-out)
	// - ws-server: Driving adapter (Fiber HTTP/WebSocket server)
	app.Register(presenceModule)  // Room membership + host migration
	app.Register(chatModule)      // Chat history + reactions
	app.Register(signalingModule) // WebRTC handshake relay
	app.Register(statsModule)     // Periodic aggregates + room reaper
	app.Register(broadcastModule) // WebSocket hub + event consumer
	app.Register(wsModule)        // HTTP/WebSocket transport

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := getEnv("PORT", "3000")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Architecture:")
	log.Println("  - HTTP Framework: Fiber with WebSocket support")
	log.Println("  - Event Bus: NATS JetStream (internal pubsub)")
	log.Printf("  - NATS URL: %s", natsURL)
	log.Println("")
	log.Println("Event-Driven Rooms:")
	log.Println("  - UserJoined/UserLeft events -> broadcast module -> WebSocket clients")
	log.Println("  - ChatMessage/ReactionUpdated events -> broadcast module -> room")
	log.Println("  - SignalRelayed events -> broadcast module -> target peer")
	log.Println("  - StatsUpdated events -> broadcast module -> all clients")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health            - Health check")
	log.Println("  GET    /api/v1/rooms      - List public rooms")
	log.Println("  GET    /api/v1/rooms/:id  - Get room details")
	log.Println("  GET    /api/v1/stats      - Aggregate stats snapshot")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Frame types: create-room, join-room, leave-room, verify-password,")
	log.Println("    toggle-moderator, chat-message, toggle-reaction, webrtc-offer,")
	log.Println("    webrtc-answer, webrtc-ice-candidate, stream-started, stream-stopped,")
	log.Println("    get-popular-rooms, ping")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
