// Command admin_seed creates the initial admin account from environment
// variables. Safe to run repeatedly; it exits quietly when the admin
// already exists.
package main

import (
	"context"
	"log"
	"os"

	"couponbay/internal/config"
	"couponbay/internal/models"
	"couponbay/internal/repositories"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	config.LoadEnv()

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		log.Fatal("ADMIN_EMAIL and ADMIN_PASSWORD must be set in environment")
	}

	if err := repositories.InitDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer func() {
		if repositories.DB != nil {
			sqlDB, err := repositories.DB.DB()
			if err == nil {
				sqlDB.Close()
			}
		}
		if repositories.CacheService != nil {
			repositories.CacheService.Close()
		}
	}()

	userRepo := repositories.NewUserRepository(repositories.DB)
	ctx := context.Background()

	if _, err := userRepo.GetByEmail(ctx, adminEmail); err == nil {
		log.Println("Admin user already exists")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("Failed to hash password:", err)
	}

	adminUser := models.User{
		Email:    adminEmail,
		Password: string(hashedPassword),
		Name:     "Administrator",
		Role:     "admin",
	}

	if err := userRepo.Create(ctx, &adminUser); err != nil {
		log.Fatal("Failed to create admin user:", err)
	}

	log.Println("Admin user created:", adminEmail)
}
