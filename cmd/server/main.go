package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/bootstrap"
	"github.com/approveflow/backend/internal/infrastructure/database"
	"github.com/approveflow/backend/internal/infrastructure/persistence"
	"github.com/approveflow/backend/internal/interfaces/rest"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	for _, p := range []string{".env", "../.env"} {
		if err := godotenv.Load(p); err == nil {
			log.Printf("📦 Loaded environment from %s", p)
			break
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	if err := bootstrap.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	store := persistence.NewSQLWorkflowStore(db.DB())
	users := persistence.NewSQLUserStore(db.DB())

	svcMgr := services.NewServiceManager(store, users, services.ServiceManagerOptions{})
	log.Println("🔧 Service manager initialized")

	if err := bootstrap.InitializeSystemData(svcMgr, users); err != nil {
		log.Fatalf("Failed to initialize system data: %v", err)
	}

	if err := svcMgr.Start(); err != nil {
		log.Fatalf("Failed to start background workers: %v", err)
	}

	router := rest.SetupRouter(svcMgr)

	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 ApproveFlow Backend Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", port)
	log.Printf("🔐 Auth API:       http://localhost:%s/api/auth", port)
	log.Printf("📋 Template API:   http://localhost:%s/api/templates", port)
	log.Printf("📨 Approval API:   http://localhost:%s/api/approvals", port)
	log.Printf("📣 Task API:       http://localhost:%s/api/tasks", port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", port)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	svcMgr.Stop()
	log.Println("🛑 Background workers stopped")

	if err := db.Close(); err != nil {
		log.Printf("⚠️  Error closing database: %v", err)
	}
	log.Println("Server exiting")
}
