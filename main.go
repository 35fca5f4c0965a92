package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"squad-wager-system/handlers"
	"squad-wager-system/middleware"
	"squad-wager-system/models"
	"squad-wager-system/services"
	"squad-wager-system/utils"
	"squad-wager-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // 20MB, enough for evidence screenshots
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Squad{},
		&models.Match{},
		&models.MatchChatMessage{},
		&models.MatchChatHold{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	adminUserIDs := splitAndTrim(os.Getenv("ADMIN_USER_IDS"))
	if len(adminUserIDs) == 0 {
		log.Println("⚠️  ADMIN_USER_IDS not set — dispute escalation notices will have no recipients")
	}

	clock := clockwork.NewRealClock()
	notifier := workers.NewNotifyClient()

	matchService := services.NewMatchService(db, clock, notifier)
	disputeService := services.NewDisputeService(db, clock, notifier, adminUserIDs)
	chatService := services.NewChatService(db, clock)
	sweeper := services.NewDeadlineSweeper(db, clock, notifier, adminUserIDs, 2*time.Minute)

	// --- CONFIGURE Squad Directory Sync ---
	directoryURL := os.Getenv("SQUAD_DIRECTORY_URL")
	if directoryURL == "" {
		log.Fatal("SQUAD_DIRECTORY_URL environment variable not set")
	}
	wagerServiceToken := os.Getenv("WAGER_SERVICE_TOKEN")
	if wagerServiceToken == "" {
		log.Fatal("WAGER_SERVICE_TOKEN environment variable not set")
	}
	// --- END CONFIG ---

	syncWorker := workers.NewSquadSyncWorker(db, directoryURL, "/api/v1/public/squads", wagerServiceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncWorker.Start(ctx)
	go sweeper.Run(ctx)
	chatService.StartRetentionScheduler()

	// ✅ Setup routes — enforced Gateway auth everywhere
	handlers.SetupMatchRoutes(app, matchService, disputeService)
	handlers.SetupChatRoutes(app, chatService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Squad Sync Worker running")
	log.Println("✅ Deadline sweeper running (every 2m)")
	log.Println("✅ Chat retention scheduler running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}

func splitAndTrim(csv string) []string {
	var out []string
	for _, v := range strings.Split(csv, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
