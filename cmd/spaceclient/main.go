// spaceclient is a small command-line client for spacerelay. It registers
// for a session, then sends each line of stdin as a relay payload and prints
// everything the relay delivers.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/network"
	"github.com/space-project/spacerelay/internal/util"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:9845", "relay address")
		partySize = flag.Uint64("n", 2, "party size to register for")
		wait      = flag.Duration("wait", time.Minute, "how long to wait for a session")
		logLevel  = flag.String("log", "info", "log level")
	)
	flag.Parse()

	logCfg := util.DefaultLogConfig()
	logCfg.Level = *logLevel
	logCfg.Out = os.Stderr
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := network.Dial(*addr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial relay")
	}
	defer client.Close()

	hsCtx, cancel := context.WithTimeout(ctx, *wait)
	assignment, err := client.Handshake(hsCtx, *partySize)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("no session assigned")
		client.Close()
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "joined session %d as player %d of %d\n",
		assignment.SessionID, assignment.Ordinal+1, assignment.PartySize)

	go func() {
		for {
			data, err := client.Receive(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Msg("receive failed")
				}
				stop()
				return
			}
			fmt.Printf("%s\n", data)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := client.Send([]byte(line)); err != nil {
				log.Warn().Err(err).Msg("send failed")
			}
		}
	}
}
