package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/fitchat/fitchat-client/internal/cache"
	"github.com/fitchat/fitchat-client/internal/config"
	"github.com/fitchat/fitchat-client/internal/rest"
	"github.com/fitchat/fitchat-client/internal/session"
	"github.com/fitchat/fitchat-client/internal/stats"
	"github.com/fitchat/fitchat-client/internal/store"
	"github.com/fitchat/fitchat-client/internal/transport"
)

var (
	configPath string
	token      string
	room       string
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&token, "token", "", "session token, overrides the configured one")
	flag.StringVar(&room, "room", "", "room to join on startup")
	flag.Parse()

	logger := log.New(os.Stderr, "[fitchat] ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if token != "" {
		cfg.SessionToken = token
	}

	sess, err := session.Parse(cfg.SessionToken, cfg.SigningKey)
	if err != nil {
		logger.Fatal("session token:", err)
	}
	if sess.Expired() {
		logger.Fatal("session token is expired")
	}

	snapStore, err := cache.NewBoltStore(cfg.CachePath)
	if err != nil {
		logger.Fatal("open cache:", err)
	}
	defer func() {
		if err := snapStore.Close(); err != nil {
			logger.Println("close cache:", err)
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	if cfg.DebugAddr != "" {
		go func() {
			h := handlers.CombinedLoggingHandler(os.Stderr, mux)
			if err := http.ListenAndServe(cfg.DebugAddr, h); err != nil {
				logger.Println("debug listener:", err)
			}
		}()
	}

	apiClient := rest.NewClient(cfg.APIBaseURL, cfg.SessionToken)
	tp := transport.NewClient(cfg.WSURL, cfg.SessionToken, logger)

	chatStore := store.NewChatStore(tp, apiClient, snapStore, statsUpdater, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := chatStore.Connect(ctx, sess.UserID); err != nil {
		cancel()
		logger.Fatal("connect:", err)
	}
	cancel()

	if room != "" {
		if err := chatStore.SetCurrentRoom(room); err != nil {
			logger.Println("join room:", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := chatStore.LoadRoomMessages(ctx, room, 50, 0); err != nil {
				logger.Println("load messages:", err)
			}
			cancel()
		}
	}

	go readInput(chatStore, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Printf("received signal: %s\n", sig)

	chatStore.Disconnect()
	logger.Println("shutdown complete")
}

// readInput feeds stdin lines into the active room. Lines starting
// with "/join " switch rooms.
func readInput(s *store.ChatStore, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if roomId, ok := strings.CutPrefix(line, "/join "); ok {
			if err := s.SetCurrentRoom(strings.TrimSpace(roomId)); err != nil {
				logger.Println("join room:", err)
			}
			continue
		}

		current := s.CurrentRoomID()
		if current == "" {
			fmt.Fprintln(os.Stderr, "no active room, use /join <room-id>")
			continue
		}
		s.SendMessage(current, line)
		if msg := s.Err(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
			s.ClearError()
		}
	}
}
