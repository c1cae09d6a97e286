package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/remote"
	"github.com/park285/Cheese-ARBoard/internal/rules"
)

func main() {
	baseURL := flag.String("url", os.Getenv("GAME_SERVER_URL"), "game server base URL")
	gameID := flag.Int("game", envInt("GAME_ID"), "game id")
	timeout := flag.Duration("timeout", 8*time.Second, "request timeout")
	flag.Parse()

	if *baseURL == "" {
		log.Fatal("GAME_SERVER_URL (or -url) is required")
	}
	if *gameID <= 0 {
		log.Fatal("GAME_ID (or -game) must be a positive integer")
	}

	client := remote.NewClient(*baseURL, remote.WithTimeout(*timeout))
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fen, err := client.FetchPosition(ctx, *gameID)
	if err != nil {
		log.Fatalf("GET /games/%d error: %v", *gameID, err)
	}
	snap, err := rules.ParseFEN(fen)
	if err != nil {
		log.Fatalf("position is not valid FEN: %v", err)
	}
	fmt.Printf("game=%d fen=%q\n", *gameID, snap.FEN())
	fmt.Printf("turn=%s status=%s legal_moves=%d\n", snap.Turn(), snap.Status(), len(snap.LegalMoves()))
}

func envInt(k string) int {
	n, _ := strconv.Atoi(os.Getenv(k))
	return n
}
