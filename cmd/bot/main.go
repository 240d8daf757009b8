// Command bot is the entrypoint for the chat-and-voice client: it takes a
// single positional bot token, connects the control gateway, and wires the
// voice director until SIGINT (spec §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/discord-voice-lab/internal/director"
	"github.com/discord-voice-lab/internal/gateway"
	"github.com/discord-voice-lab/internal/logging"
	"github.com/discord-voice-lab/internal/model"
)

const (
	tokenLength = 59
	gatewayURL  = "wss://gateway.discord.gg/?v=6&encoding=json"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logging.Init()
	defer logging.Sync()

	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: bot <token>")
		return 1
	}
	token := args[0]
	if len(token) != tokenLength {
		fmt.Fprintf(os.Stderr, "bot: token must be %d characters, got %d\n", tokenLength, len(token))
		return 1
	}

	store := model.NewGatewayStore()
	gw := gateway.New(token, gatewayURL, store)
	dir := director.New(gw)
	_ = dir

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Connect(ctx); err != nil {
		logging.Errorw("bot: connect failed", "err", err)
		return 1
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logging.Infow("bot: shutting down")
	if err := gw.Close(); err != nil {
		logging.Errorw("bot: close error", "err", err)
	}
	return 0
}
