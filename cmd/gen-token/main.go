package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/examutil"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func main() {
	var (
		schedule string
		length   int
		userID   string
		role     string
		name     string
		ttl      time.Duration
	)
	flag.StringVar(&schedule, "schedule", "", "Rotate the entry token of this schedule ID")
	flag.IntVar(&length, "length", examutil.DefaultTokenLength, "Entry token length")
	flag.StringVar(&userID, "user", "", "Sign an access token for this user ID")
	flag.StringVar(&role, "role", string(service.RoleUser), "Role of the access token (user or admin)")
	flag.StringVar(&name, "name", "", "Display name carried in the access token")
	flag.DurationVar(&ttl, "ttl", 4*time.Hour, "Access token lifetime")
	flag.Parse()

	if schedule == "" && userID == "" {
		fmt.Println("Usage: gen-token [-schedule <id>] [-user <id> -role user|admin]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	// ─── Access Token ──────────────────────────────────────────────────
	if userID != "" {
		id, err := uuid.Parse(userID)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid user ID")
		}
		r := service.Role(role)
		if r != service.RoleUser && r != service.RoleAdmin {
			log.Fatal().Str("role", role).Msg("Role must be user or admin")
		}
		token, err := service.NewAuthService(cfg).GenerateToken(id, r, name, ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Println(token)
	}

	// ─── Entry Token Rotation ──────────────────────────────────────────
	if schedule == "" {
		return
	}
	scheduleID, err := uuid.Parse(schedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid schedule ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	token, err := examutil.GenerateToken(length)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate entry token")
	}
	if err := repository.NewScheduleRepository(pool).UpdateScheduleToken(ctx, scheduleID, token); err != nil {
		log.Fatal().Err(err).Str("schedule_id", schedule).Msg("Failed to store entry token")
	}

	fmt.Printf("Schedule %s entry token: %s\n", scheduleID, token)
}
