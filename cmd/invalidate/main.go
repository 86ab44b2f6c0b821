package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"url-redirector/pubsub"

	"github.com/redis/go-redis/v9"
)

// invalidate tells every running instance to drop the given redirect keys
// from its cache.
func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s key [key...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ps := pubsub.NewPubSub(client, log.Default())
	failed := false
	for _, key := range flag.Args() {
		if err := ps.PublishRedirectChanged(ctx, key); err != nil {
			log.Printf("Failed to publish %q: %v", key, err)
			failed = true
			continue
		}
		log.Printf("Published change of %q", key)
	}
	if failed {
		os.Exit(1)
	}
}
