package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"privacydesk/backend/internal/presence"
	"privacydesk/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <command> [args]")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "close":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin close <conversation_id>")
			os.Exit(1)
		}
		if err := storageSvc.CloseConversation(os.Args[2]); err != nil {
			log.Fatalf("Error closing conversation: %v", err)
		}
		fmt.Printf("Conversation %s has been closed.\n", os.Args[2])
	case "assign":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin assign <conversation_id> <agent_id>")
			os.Exit(1)
		}
		if err := storageSvc.AssignAgent(os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("Error assigning agent: %v", err)
		}
		fmt.Printf("Conversation %s assigned to %s.\n", os.Args[2], os.Args[3])
	case "inbox":
		convs, err := storageSvc.ListInbox()
		if err != nil {
			log.Fatalf("Error listing inbox: %v", err)
		}
		for _, c := range convs {
			assignee := "-"
			if c.AssignedAgentID != nil {
				assignee = *c.AssignedAgentID
			}
			fmt.Printf("%s  [%s/%s]  %s  agent=%s  last=%s\n",
				c.ID, c.Status, c.Priority, c.Subject, assignee, c.LastMessageAt.Format("2006-01-02 15:04"))
		}
	case "archive":
		convs, err := storageSvc.ListArchive()
		if err != nil {
			log.Fatalf("Error listing archive: %v", err)
		}
		for _, c := range convs {
			fmt.Printf("%s  %s  last=%s\n", c.ID, c.Subject, c.LastMessageAt.Format("2006-01-02 15:04"))
		}
	case "online":
		// Holds an agent's presence while a shift tool runs; Ctrl-C sends
		// the graceful offline update.
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin online <agent_id>")
			os.Exit(1)
		}
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		storageSvc.Redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		tracker := presence.NewTracker(storageSvc)
		fmt.Printf("Heartbeating as %s, Ctrl-C to go offline.\n", os.Args[2])
		tracker.Run(ctx, os.Args[2], "admin-cli")
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}
