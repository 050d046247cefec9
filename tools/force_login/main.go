package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/approveflow/backend/internal/infrastructure/database"
	"github.com/approveflow/backend/internal/infrastructure/persistence"
	"github.com/approveflow/backend/pkg/auth"
)

// Development helper: mints a JWT for an existing user without a password,
// for poking the API with curl.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: force_login <user_id>")
	}
	userID := os.Args[1]

	_ = godotenv.Load(".env", "../.env", "../../.env")

	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	users := persistence.NewSQLUserStore(db.DB())
	user, err := users.GetUser(context.Background(), userID)
	if err != nil {
		log.Fatalf("Failed to load user: %v", err)
	}
	if user == nil {
		log.Fatalf("User %s not found", userID)
	}

	token, err := auth.GenerateToken(auth.UserSession{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		DepartmentID: user.DepartmentID,
		IsAdmin:      user.IsAdmin,
	})
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	log.Printf("✅ Token for %s (%s):", user.Name, user.Email)
	os.Stdout.WriteString(token + "\n")
}
