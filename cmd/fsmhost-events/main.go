// Command fsmhost-events is a read-only tail of the Broadcaster's
// WebSocket stream, useful for debugging a running fleet from a
// terminal (spec.md §6 "Event monitor").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/fsmhost/fsmhost/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to fsmhost.yaml")
	machineFilter := flag.String("machine", "", "only show frames for this machine_name")
	format := flag.String("format", "human", "output format: human, json, compact")
	duration := flag.Duration("duration", 0, "stop after this long (0 = run until interrupted)")
	flag.Parse()

	switch *format {
	case "human", "json", "compact":
	default:
		fmt.Fprintf(os.Stderr, "invalid --format %q (want human, json, or compact)\n", *format)
		return 2
	}

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	wsURL := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", resolveHost(cfg.WebSocket.Address), cfg.WebSocket.Port), Path: "/ws/events"}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", wsURL.String(), err)
		return 1
	}
	defer conn.Close()

	ctx := context.Background()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			return 1
		}

		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		if *machineFilter != "" {
			if name, _ := frame["machine_name"].(string); name != *machineFilter {
				continue
			}
		}
		if frame["type"] == "ping" {
			continue
		}

		printFrame(*format, frame)
	}
}

func resolveHost(address string) string {
	if address == "" {
		return "127.0.0.1"
	}
	return address
}

func printFrame(format string, frame map[string]any) {
	switch format {
	case "json":
		raw, _ := json.Marshal(frame)
		fmt.Println(string(raw))
	case "compact":
		fmt.Printf("%v %v %v\n", frame["type"], frame["machine_name"], frame["payload"])
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "[%v] %v", frame["type"], frame["machine_name"])
		if payload, ok := frame["payload"]; ok {
			fmt.Fprintf(&b, " %v", payload)
		}
		fmt.Println(b.String())
	}
}
