// Command belex-dbg-watch is a terminal observer for a belex-dbg relay.
// Enter steps to the next unit; /restart, /load PATH and /quit are
// the other commands.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.String("addr", "ws://localhost:9803/ws", "relay websocket address")
	codecName := pflag.String("codec", "json", "wire codec: json or cbor")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Printf("Connecting to %s...\n", *addr)
	client, err := NewClient(*addr, *codecName)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("Session established: %s\n", client.sessionID)
	fmt.Println("Press Enter to step. Commands: /restart, /load PATH, /quit")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			env, err := client.Read()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logger.Warn("read failed", "error", err)
				}
				return
			}
			fmt.Println(Render(env))
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case <-done:
			fmt.Println("Relay closed the session")
			return
		case input, ok := <-lines:
			if !ok {
				return
			}
			msgType, data, quit, err := ParseInput(input)
			if quit {
				fmt.Println("Bye!")
				return
			}
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
			if _, err := client.Send(msgType, data); err != nil {
				logger.Warn("send failed", "error", err)
			}
		}
	}
}
