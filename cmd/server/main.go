package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emotichat/emotichat/internal/api"
	"github.com/emotichat/emotichat/internal/config"
	"github.com/emotichat/emotichat/internal/database"
	"github.com/emotichat/emotichat/internal/server"
	"github.com/emotichat/emotichat/internal/stats"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "c2P1kQxN0v6hFuJdL9bWKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	historyLimit   int
	inMemory       bool
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.IntVar(&historyLimit, "history-limit", config.DefaultHistoryLimit, "max messages returned by history reads")
	flag.BoolVar(&inMemory, "memory", false, "keep messages in a bounded in-memory ring instead of postgres")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[emotichat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, historyLimit, inMemory)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var repo database.ChatRepository
	if cfg.InMemory {
		logger.Println("using in-memory message store")
		repo = database.NewMemoryRepository(database.DefaultRingCapacity)
	} else {
		pgRepo, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		defer func() {
			if err := pgRepo.Close(); err != nil {
				logger.Fatal("db close:", err)
			}
		}()

		if err := pgRepo.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}

		repo = pgRepo
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, repo, statsUpdater, cfg.HistoryLimit)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, repo, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
