package main

import (
	"context"
	"log"
	"os"
	"time"

	"documind/internal/api"
	"documind/internal/cache"
	"documind/internal/chunker"
	"documind/internal/config"
	"documind/internal/embedding"
	"documind/internal/extract"
	"documind/internal/pipeline"
	"documind/internal/rag"
	"documind/internal/redis"
	"documind/internal/service/agent"
	"documind/internal/storage"
	"documind/internal/vectorstore"
	"documind/internal/vision"
	"documind/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DOCUMIND_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DOCUMIND_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	store := storage.NewStore(db, dbType)

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	index, err := vectorstore.New(ctx, cfg.Vector)
	if err != nil {
		log.Fatalf("init vector index: %v", err)
	}
	defer index.Close()

	callTimeout := time.Duration(cfg.Pipeline.CallTimeout) * time.Second
	embedder, err := embedding.NewService(ctx, cfg.Embedding, callTimeout, cfg.Pipeline.Retries)
	if err != nil {
		log.Fatalf("init embedding service: %v", err)
	}
	agentService, err := agent.NewService(ctx, cfg)
	if err != nil {
		log.Fatalf("init agent service: %v", err)
	}
	extractor, err := extract.NewDispatcher(cfg.Pipeline)
	if err != nil {
		log.Fatalf("init extraction dispatcher: %v", err)
	}

	var ocrClient vision.OCRClient
	if cfg.OCR.APIURL != "" {
		ocrClient = vision.NewHTTPOCRClient(cfg.OCR.APIURL, callTimeout)
	}
	resolver := vision.NewResolver(ocrClient, agentService, cfg.OCR.Threshold, cfg.Pipeline.MinImageBytes, cfg.Pipeline.VisionWorkers, cfg.Pipeline.Retries)

	semanticCache := cache.NewSemanticCache(rdb, embedder, cfg.Cache.SimilarityThreshold,
		time.Duration(cfg.Cache.ResponseTTL)*time.Second,
		time.Duration(cfg.Cache.EmbeddingTTL)*time.Second)

	chunks := chunker.New(cfg.Chunker)
	pipe := pipeline.New(store, index, embedder, extractor, resolver, agentService, chunks, semanticCache)

	tracker := worker.NewBatchTracker(worker.PostCallback)
	manager := worker.NewManager(pipe, tracker)
	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		manager,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
	)

	engine := rag.NewEngine(index, embedder, semanticCache, store, store, agentService, cfg.Cache.MaxHistory)

	uploadDir := cfg.BasicConfig.UploadDir
	if uploadDir == "" {
		uploadDir = "./data/uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Fatalf("create upload dir: %v", err)
	}

	handlers := api.NewHandler(engine, store, index, semanticCache, dispatcher, tracker, uploadDir)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
