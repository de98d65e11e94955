package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"egcards/internal/cardstore"
	"egcards/internal/config"
	"egcards/internal/storage"
)

// 运维工具：查看 / 清空已发布卡片集合，检查与清理对象存储。
func main() {
	var (
		action = flag.String("action", "", "list-cards | clear-cards | list-objects | delete-prefix")
		prefix = flag.String("prefix", "", "对象键前缀（list-objects / delete-prefix 用）")
		limit  = flag.Int("limit", 50, "list-objects 返回的最大条数")
	)
	flag.Parse()

	a := strings.TrimSpace(*action)
	if a == "" {
		log.Fatal("missing required flag: --action")
	}

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch a {
	case "list-cards":
		store := newStore(cfg, logger)
		cards := store.Load(ctx)
		if len(cards) == 0 {
			fmt.Println("no published cards")
			return
		}
		for _, c := range cards {
			fields := len(c.TextFields)
			fmt.Printf("%s\t%s\tfields=%d\tcreated=%s\n", c.ID, c.Name, fields, c.CreatedAt.Format(time.RFC3339))
		}

	case "clear-cards":
		store := newStore(cfg, logger)
		if err := store.Clear(ctx); err != nil {
			log.Fatalf("clear card store: %v", err)
		}
		fmt.Println("card store cleared")

	case "list-objects":
		client := newStorageClient(cfg)
		objects, err := client.ListObjects(ctx, *prefix, *limit)
		if err != nil {
			log.Fatalf("list objects: %v", err)
		}
		for _, obj := range objects {
			fmt.Printf("%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format(time.RFC3339))
		}

	case "delete-prefix":
		if strings.TrimSpace(*prefix) == "" {
			log.Fatal("missing required flag: --prefix")
		}
		client := newStorageClient(cfg)
		if err := client.DeletePrefix(ctx, *prefix); err != nil {
			log.Fatalf("delete prefix: %v", err)
		}
		fmt.Printf("objects under %q deleted\n", *prefix)

	default:
		log.Fatalf("unknown action %q", a)
	}
}

func newStore(cfg *config.Config, logger *slog.Logger) *cardstore.Store {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}
	return cardstore.New(redisClient, nil, logger)
}

func newStorageClient(cfg *config.Config) *storage.Client {
	client, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	return client
}
