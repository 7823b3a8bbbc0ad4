package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"voiceMemo/config"
	"voiceMemo/processors"
	"voiceMemo/server"
	"voiceMemo/storage"
)

func initBlobStore(ctx context.Context, cfg *config.Config) storage.BlobStore {
	if cfg.GCSBucket != "" {
		store, err := storage.NewGCSBlobStore(ctx, cfg.GCSBucket)
		if err != nil {
			log.Printf("Warning: GCS blob store unavailable, falling back to local storage: %v", err)
		} else {
			log.Printf("Blob store initialized: gcs (bucket %s)", cfg.GCSBucket)
			return store
		}
	}
	store, err := storage.NewLocalBlobStore("")
	if err != nil {
		log.Fatalf("failed to init local blob store: %v", err)
	}
	log.Printf("Blob store initialized: local")
	return store
}

func initMemoStore(ctx context.Context, cfg *config.Config) storage.MemoStore {
	if cfg.PostgresURL != "" {
		store, err := storage.NewPgMemoStore(ctx, cfg.PostgresURL)
		if err != nil {
			log.Printf("Warning: postgres memo store unavailable, falling back to memory: %v", err)
		} else {
			log.Printf("Memo store initialized: postgres")
			return store
		}
	}
	log.Printf("Memo store initialized: memory")
	return storage.NewMemoryMemoStore()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
	}

	ctx := context.Background()

	blobs := initBlobStore(ctx, cfg)
	memos := initMemoStore(ctx, cfg)
	vectors := storage.NewVectorStore(cfg)

	transcriber := processors.PickTranscriber(cfg, blobs)
	analyzer := processors.PickCategoryAnalyzer(cfg)

	srv := server.New(cfg, memos, blobs, vectors, transcriber, analyzer)
	mux := http.NewServeMux()
	srv.Routes(mux)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("Server listening on %s", addr)
	log.Fatal(httpServer.ListenAndServe())
}
