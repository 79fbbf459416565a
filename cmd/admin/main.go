package main

import (
	"context"
	"fmt"
	"os"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  resolve <user_a> <user_b>                       print (and create) the room of two users
  unread <user>                                   list rooms with unread messages for user
  transcript <user_a> <user_b>                    print the transcript of two users
  profile <user> <full_name> [image] [chat_id]    create or update a profile`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	log := logging.New(os.Stderr, "warn", true)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("admin needs the postgres store")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	// Redis carries the change notifications; live clients miss admin writes without it.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, writes will not reach live clients")
		rdb = nil
	}

	svc := storage.NewStorageService(db, rdb, cfg.ProfileCacheTTL, log)
	hub := chathub.NewHub(svc, svc, chathub.OptionsFromConfig(cfg), log)
	defer hub.Shutdown()

	args := os.Args[2:]
	switch os.Args[1] {
	case "resolve":
		need(args, 2, "admin resolve <user_a> <user_b>")
		roomID, err := hub.Resolver.Resolve(ctx, args[0], args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("error resolving room")
		}
		fmt.Println(roomID)
	case "unread":
		need(args, 1, "admin unread <user>")
		if err := printUnread(ctx, hub, args[0]); err != nil {
			log.Fatal().Err(err).Msg("error reading unread feed")
		}
	case "transcript":
		need(args, 2, "admin transcript <user_a> <user_b>")
		if err := printTranscript(ctx, hub, svc, args[0], args[1]); err != nil {
			log.Fatal().Err(err).Msg("error reading transcript")
		}
	case "profile":
		if len(args) < 2 || len(args) > 4 {
			fmt.Println("Usage: admin profile <user> <full_name> [image] [chat_id]")
			os.Exit(1)
		}
		profile := &models.Profile{UserID: args[0], FullName: args[1]}
		if len(args) > 2 {
			profile.Image = args[2]
		}
		if len(args) > 3 {
			chatID, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				fmt.Println("Invalid chat id. Please provide an integer.")
				os.Exit(1)
			}
			profile.TelegramChatID = chatID
		}
		if err := svc.SaveProfile(ctx, profile); err != nil {
			log.Fatal().Err(err).Msg("error saving profile")
		}
		fmt.Printf("Profile %s has been saved.\n", profile.UserID)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func need(args []string, n int, help string) {
	if len(args) != n {
		fmt.Println("Usage: " + help)
		os.Exit(1)
	}
}

func printUnread(ctx context.Context, hub *chathub.Hub, userID string) error {
	entries, err := hub.RoomList.Unread(ctx, userID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No unread messages.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tPEER\tUNREAD\tLAST MESSAGE\tAT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.RoomID, e.Peer.DisplayName(), e.Unread, e.LastMessage, e.LastMessageAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func printTranscript(ctx context.Context, hub *chathub.Hub, store storage.Store, a, b string) error {
	roomID, found, err := hub.Resolver.Lookup(ctx, a, b)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("No room yet.")
		return nil
	}

	msgs, err := store.ListMessages(ctx, roomID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Status, m.Summary())
	}
	return w.Flush()
}
