package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bchauvel/lexia/internal/config"
	"github.com/bchauvel/lexia/internal/core/domain"
	"github.com/bchauvel/lexia/internal/core/ports"
	"github.com/bchauvel/lexia/internal/core/usecase"
	"github.com/bchauvel/lexia/internal/infrastructure/chunking"
	"github.com/bchauvel/lexia/internal/infrastructure/dualstore"
	"github.com/bchauvel/lexia/internal/infrastructure/enrichment"
	"github.com/bchauvel/lexia/internal/infrastructure/llm/ollama"
	"github.com/bchauvel/lexia/internal/infrastructure/queue/nats"
	"github.com/bchauvel/lexia/internal/infrastructure/repository/postgres"
	"github.com/bchauvel/lexia/internal/infrastructure/resilience"
	"github.com/bchauvel/lexia/internal/infrastructure/upstream/judilibre"
	"github.com/bchauvel/lexia/internal/infrastructure/upstream/legifrance"
	"github.com/bchauvel/lexia/internal/infrastructure/upstream/piste"
	"github.com/bchauvel/lexia/internal/infrastructure/upstream/webscrape"
	"github.com/bchauvel/lexia/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue        ports.MessageQueue
	Documents    ports.DocumentReader
	Store        ports.ChunkStore
	Importer     ports.LegalImporter
	QueryService ports.LegalQueryService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	documents := postgres.NewDocumentRepository(db)
	chunks := postgres.NewChunkRepository(db)
	watermarks := postgres.NewWatermarkRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	tokens := piste.NewManager(executor)
	for name, up := range cfg.Upstreams {
		tokens.Register(name, piste.Credentials{
			ClientID:     up.ClientID,
			ClientSecret: up.ClientSecret,
			TokenURL:     up.TokenURL,
			Scope:        up.Scope,
		}, piste.Quota{
			PerSecond: up.RequestsPerSecond,
			DailyCap:  up.DailyCap,
		})
	}

	lf := cfg.Upstreams["legifrance"]
	jl := cfg.Upstreams["judilibre"]
	connectors := []ports.SourceConnector{
		legifrance.New(lf.BaseURL, tokens, executor, cfg.IngestPageSize, lf.ImportQuery),
		judilibre.New(jl.BaseURL, tokens, executor, cfg.IngestPageSize, jl.ImportQuery),
	}
	for _, site := range cfg.ScrapeSites {
		docType := domain.DocumentType(site.DocumentType)
		if docType == "" {
			docType = domain.TypeAdministrative
		}
		connectors = append(connectors, webscrape.New(webscrape.Site{
			Name:         site.Name,
			IndexURL:     site.IndexURL,
			DocumentType: docType,
			ItemTag:      site.ItemTag,
			ItemClass:    site.ItemClass,
		}, executor))
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient, cfg.EmbeddingDimension)
	generator := ollama.NewGenerator(ollamaClient)

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	store := dualstore.New(documents, chunks, vectors, logger)

	enricher := enrichment.New(logger, enrichment.WithMaxInputLen(cfg.EnrichMaxInputLen))
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	importer := usecase.NewImportUseCase(
		connectors, enricher, chunker, embedder, store, watermarks, documents, logger,
		usecase.ImportOptions{
			Workers:            cfg.IngestWorkers,
			PageSize:           cfg.IngestPageSize,
			EmbedBatchSize:     cfg.EmbedBatchSize,
			EmbedRetryPerChunk: cfg.EmbedRetryPerChunk,
		},
	)

	retriever := usecase.NewHybridRetriever(embedder, store, enrichment.ExtractQueryKeywords, usecase.HybridConfig{
		VectorWeight:     cfg.Hybrid.VectorWeight,
		KeywordWeight:    cfg.Hybrid.KeywordWeight,
		KeywordOnlyScore: cfg.Hybrid.KeywordOnlyScore,
		VectorTopN:       cfg.Hybrid.VectorTopN,
		KeywordTopN:      cfg.Hybrid.KeywordTopN,
	})
	gate := usecase.NewAnswerGate(generator, cfg.ConfidenceThreshold, cfg.AnswerTopK)
	queryService := usecase.NewLegalQueryUseCase(retriever, gate, cfg.QueryTimeout, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:        queue,
		Documents:    documents,
		Store:        store,
		Importer:     importer,
		QueryService: queryService,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
