package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/schemabind/schemabind/registry"
)

func main() {
	_ = godotenv.Load()
	addr := getEnv("SCHEMABIND_ADDR", ":8080")
	load := getEnv("SCHEMABIND_LOAD", "")
	level := getEnv("SCHEMABIND_LOG", "info")
	title := getEnv("SCHEMABIND_TITLE", "schemabind registry")

	err := setupLogging(level)
	if err != nil {
		slog.Error("could not init logging", "err", err)
		return
	}

	reg := registry.New()
	if load != "" {
		for _, path := range strings.Split(load, ",") {
			ids, err := reg.Load(strings.TrimSpace(path))
			if err != nil {
				slog.Error("could not load schemas", "path", path, "err", err)
				return
			}
			slog.Info("loaded schemas", "path", path, "count", len(ids))
		}
	}
	if unresolved := reg.FindUnresolved(); len(unresolved) > 0 {
		slog.Warn("registry has unresolved references", "count", len(unresolved))
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: newServer(reg, title).router(),
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("serving registry", "addr", addr, "schemas", len(reg.IDs()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", "err", err)
		}
	}()

	<-term
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func setupLogging(level string) error {
	var logLevel slog.Level
	err := logLevel.UnmarshalText([]byte(level))
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
	return err
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
