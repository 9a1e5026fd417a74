// Command bot runs the Telegram AI assistant and its maintenance tasks.
//
//	bot                      # same as "bot serve"
//	bot serve                # long-poll Telegram, serve the admin API
//	bot migrate              # create or update tables
//	bot users export --out users.json
//	bot admins add 123456 --super
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is injected at build time: -ldflags "-X main.version=v1.2.3".
var version string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
