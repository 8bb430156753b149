package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/config"
	"studio_gateway/internal/storage"
)

func main() {
	fmt.Println("AI Chat Studio - Admin Initialization")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// bootstrap variables take precedence over the startup admin
	username := os.Getenv("ADMIN_BOOTSTRAP_USERNAME")
	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")
	if username == "" {
		username = cfg.Admin.Username
	}
	if password == "" {
		password = cfg.Admin.Password
	}
	if len(password) < auth.MinPasswordLength {
		fmt.Fprintf(os.Stderr, "ERROR: Password must be at least %d characters long\n", auth.MinPasswordLength)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to migrate database: %v\n", err)
		os.Exit(1)
	}

	users := db.NewUserRepository()
	existing, err := users.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to list users: %v\n", err)
		os.Exit(1)
	}

	var admins int
	for _, u := range existing {
		if u.Role == auth.RoleAdmin.String() {
			admins++
			fmt.Printf("  - %s (%s)\n", u.Username, u.Status)
		}
	}
	if admins > 0 {
		fmt.Printf("INFO: Found %d existing admin account(s). Nothing to do.\n", admins)
		return
	}

	svc := auth.NewService(users, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL))
	user, err := svc.CreateUser(ctx, username, password, auth.RoleAdmin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SUCCESS: Admin account created")
	fmt.Printf("Username: %s\n", user.Username)
	fmt.Printf("ID: %s\n", user.ID)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format(time.RFC3339))
	fmt.Println("Change this password after the first login.")
}
