// Command devtoken mints an access token for local testing of the album API in
// jwt auth mode. It optionally resolves the user through the user service first.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/familring/album-service/internal/config"
	"github.com/familring/album-service/internal/pkg/jwt"
	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/upstream"
	"github.com/familring/album-service/internal/pkg/userdir"
)

func main() {
	userID := flag.Int64("user", 0, "user id to issue the token for")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	verify := flag.Bool("verify", false, "look the user up in the user service first")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if cfg.IsProduction() {
		log.Fatal().Msg("devtoken refuses to run with ENV=production")
	}
	if *userID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	if *verify {
		users := userdir.NewClient(upstream.NewClient(upstream.Config{
			Name:    "user-service",
			BaseURL: cfg.UserServiceURL,
			Timeout: cfg.UpstreamTimeout,
		}))
		u, err := users.GetUser(context.Background(), *userID)
		if err != nil {
			log.Fatal().Err(err).Int64("user_id", *userID).Msg("User lookup failed")
		}
		log.Info().Int64("user_id", u.UserID).Str("nickname", u.Nickname).Bool("has_face", u.FaceSignature != "").Msg("User found")
	}

	token, err := jwt.NewService(cfg.JWTSecret, *ttl).GenerateAccessToken(*userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}
