package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"privacydesk/backend/internal/api/handler"
	"privacydesk/backend/internal/chathub"
	"privacydesk/backend/internal/feed"
	"privacydesk/backend/internal/models"
	"privacydesk/backend/internal/notify"
	"privacydesk/backend/internal/presence"
	"privacydesk/backend/internal/storage"
	"privacydesk/backend/internal/typing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupDependencies() (*gorm.DB, *redis.Client) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		env("DB_HOST", "localhost"),
		env("DB_USER", "user"),
		env("DB_PASSWORD", "password"),
		env("DB_NAME", "privacydeskdb"),
		env("DB_PORT", "5432"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     env("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.Message{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func main() {
	log.Println("Starting PrivacyDesk chat backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	db, rdb := setupDependencies()
	s := storage.NewStorageService(db, rdb)

	// Realtime plumbing: change-feed listener, presence, typing.
	listener := feed.NewListener(rdb)
	tracker := presence.NewTracker(s)
	broadcaster := typing.NewBroadcaster(s)

	hub := chathub.NewManagerService(listener, tracker, broadcaster)

	// Out-of-band notification sinks are optional wiring.
	fanout := notify.NewFanout(s)
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		tg, err := notify.NewTelegramDispatcher(token)
		if err != nil {
			log.Fatalf("Failed to start Telegram notifier: %v", err)
		}
		fanout.Register(tg)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kd, err := notify.NewKafkaDispatcher(strings.Split(brokers, ","), env("KAFKA_NOTIFY_TOPIC", "notifications.email"))
		if err != nil {
			log.Fatalf("Failed to connect Kafka notifier: %v", err)
		}
		fanout.Register(kd)
	}
	go runNotificationFanout(listener, fanout, hub)

	go hub.Run()

	r := gin.Default()
	h := handler.NewHandler(hub, s, tracker, broadcaster)

	r.POST("/token", h.IssueToken)
	r.GET("/ws", h.ServeWebSocket)

	r.POST("/conversations", h.CreateConversation)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/archive", h.ListArchive)
	r.GET("/conversations/:id/messages", h.GetMessages)
	r.POST("/conversations/:id/messages", h.AppendMessage)
	r.POST("/conversations/:id/read", h.MarkRead)
	r.POST("/conversations/:id/typing", h.SetTyping)
	r.POST("/conversations/:id/close", h.CloseConversation)
	r.POST("/conversations/:id/assign", h.AssignAgent)

	r.GET("/unread", h.Unread)
	r.POST("/presence/heartbeat", h.Heartbeat)
	r.GET("/roster/online", h.OnlineRoster)

	server := &http.Server{
		Addr:           env("LISTEN_ADDR", ":8080"),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Fatal(server.ListenAndServe())
}

// runNotificationFanout watches the global feed and lets the fanout decide
// per recipient. The hub supplies each recipient's actively-viewed
// conversation so an open thread never also rings.
func runNotificationFanout(listener *feed.Listener, fanout *notify.Fanout, hub *chathub.ManagerService) {
	sub, err := listener.Subscribe(feed.Global(), nil)
	if err != nil {
		log.Printf("ERROR: Notification feed subscription failed: %v", err)
		return
	}
	defer sub.Close()

	for ev := range sub.Events {
		if ev.Kind != models.EventMessageInserted {
			continue
		}
		conv, err := fanout.Store.GetConversation(ev.ConversationID)
		if err != nil {
			continue
		}

		recipients := []string{conv.CustomerID}
		if conv.AssignedAgentID != nil {
			recipients = append(recipients, *conv.AssignedAgentID)
		}
		for _, recipient := range recipients {
			fanout.HandleMessage(ev, recipient, hub.ActiveConversation(recipient))
		}
	}
}
