// ABOUTME: Minimal fake channel for E2E testing: posts activities to a running coven-router.
// ABOUTME: Usage: fake-channel [-addr localhost:5000] [-grpc localhost:50052] [-conversations 3] [-messages 5]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-router/internal/transport"
)

type options struct {
	addr          string
	grpcAddr      string
	channel       string
	conversations int
	messages      int
	end           bool
	redeliver     bool
}

func main() {
	var o options
	flag.StringVar(&o.addr, "addr", "localhost:5000", "router HTTP address")
	flag.StringVar(&o.grpcAddr, "grpc", "", "router gRPC health address (optional)")
	flag.StringVar(&o.channel, "channel", "fake", "channelId to send")
	flag.IntVar(&o.conversations, "conversations", 3, "number of conversations")
	flag.IntVar(&o.messages, "messages", 5, "messages per conversation")
	flag.BoolVar(&o.end, "end", false, "finish each conversation with endOfConversation")
	flag.BoolVar(&o.redeliver, "redeliver", false, "send every activity twice to exercise dedupe")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, o); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, o options) error {
	if o.grpcAddr != "" {
		status, err := checkHealth(ctx, o.grpcAddr)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "router health: %s\n", status)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("http://%s/api/messages", o.addr)
	counts := map[string]int{}

	for m := 0; m < o.messages; m++ {
		for c := 0; c < o.conversations; c++ {
			act := activity(o.channel, fmt.Sprintf("conv-%d", c), "message", fmt.Sprintf("message %d", m))
			for i := 0; i < sends(o.redeliver); i++ {
				status, err := post(ctx, client, url, act)
				if err != nil {
					return err
				}
				counts[status]++
			}
		}
	}

	if o.end {
		for c := 0; c < o.conversations; c++ {
			status, err := post(ctx, client, url, activity(o.channel, fmt.Sprintf("conv-%d", c), "endOfConversation", ""))
			if err != nil {
				return err
			}
			counts[status]++
		}
	}

	for status, n := range counts {
		fmt.Printf("%-10s %d\n", status, n)
	}
	return nil
}

func sends(redeliver bool) int {
	if redeliver {
		return 2
	}
	return 1
}

func activity(channel, conversation, typ, text string) map[string]any {
	return map[string]any{
		"id":           uuid.New().String(),
		"type":         typ,
		"text":         text,
		"channelId":    channel,
		"conversation": map[string]any{"id": conversation},
		"from":         map[string]any{"id": "fake-user", "name": "Fake User"},
		"serviceUrl":   "http://localhost/fake",
	}
}

func post(ctx context.Context, client *http.Client, url string, act map[string]any) (string, error) {
	body, err := json.Marshal(act)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting activity: %w", err)
	}
	defer resp.Body.Close()

	var ack transport.MessageResponse
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return "", fmt.Errorf("decoding ack: %w", err)
		}
		return ack.Status, nil
	}
	return fmt.Sprintf("http-%d", resp.StatusCode), nil
}

func checkHealth(ctx context.Context, addr string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: transport.HealthService})
	if err != nil {
		return "", fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus().String(), nil
}
