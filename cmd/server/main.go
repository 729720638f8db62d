package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	presencecmd "github.com/louisbranch/presence.space/internal/cmd/presence"
)

func main() {
	cfg, err := presencecmd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PRESENCE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := presencecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
