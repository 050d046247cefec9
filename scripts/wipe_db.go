package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Development helper: drops and recreates the workflow database. The server
// recreates the schema and seed data on next startup.
func main() {
	_ = godotenv.Load(".env", "../.env")

	host := envOr("DB_HOST", "127.0.0.1")
	port := envOr("DB_PORT", "3306")
	user := envOr("DB_USER", "root")
	password := os.Getenv("DB_PASSWORD")
	name := envOr("DB_NAME", "approveflow")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/?parseTime=true", user, password, host, port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("Failed to open connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	log.Printf("💣 Wiping database %q...", name)
	if _, err := db.Exec("DROP DATABASE IF EXISTS " + name); err != nil {
		log.Fatalf("Failed to drop database: %v", err)
	}
	if _, err := db.Exec("CREATE DATABASE " + name); err != nil {
		log.Fatalf("Failed to create database: %v", err)
	}
	log.Printf("✅ Database %q recreated. Restart the server to rebuild schema and seed data.", name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
