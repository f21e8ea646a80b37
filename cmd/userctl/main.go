// userctl provisions users out-of-band: the server has no signup route.
// Passwords are bcrypt-hashed before they reach the database.
package main

import (
	"flag"
	"os"

	"github.com/emrantusho/the-final-studio/config"
	"github.com/emrantusho/the-final-studio/infra/database"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/rs/zerolog"
)

func main() {
	username := flag.String("username", "", "username to create")
	password := flag.String("password", "", "initial password")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if *username == "" || *password == "" {
		logger.Fatal().Msg("both -username and -password are required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.CreateTables(&storage.User{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate tables")
	}

	user, err := storage.NewUserRepository(db).CreateUser(*username, *password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create user")
	}
	logger.Info().Uint("id", user.ID).Str("username", user.Username).Msg("user created")
}
