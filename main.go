package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EXCurryBar/mybot/internal/api"
	"github.com/EXCurryBar/mybot/internal/chart"
	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/history"
	"github.com/EXCurryBar/mybot/internal/ledger"
	"github.com/EXCurryBar/mybot/internal/line"
	"github.com/EXCurryBar/mybot/internal/observability"
	"github.com/EXCurryBar/mybot/internal/prompt"
	"github.com/EXCurryBar/mybot/internal/redis"
	"github.com/EXCurryBar/mybot/internal/service/accounting"
	"github.com/EXCurryBar/mybot/internal/service/ai"
	"github.com/EXCurryBar/mybot/internal/service/assistant"
	"github.com/EXCurryBar/mybot/internal/service/router"
	"github.com/EXCurryBar/mybot/internal/storage"
	"github.com/EXCurryBar/mybot/internal/summarycache"
	"github.com/EXCurryBar/mybot/internal/worker"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfg, err := config.Load(os.Getenv("MYBOT_CONFIG"))
	if err != nil {
		observability.Logger().Error("load config", "err", err)
		os.Exit(1)
	}
	log := observability.Setup(cfg.Logging.Level, cfg.Logging.Format)
	fatal := func(msg string, err error) {
		log.Error(msg, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: SQL (sqlite3/mysql) or mongo for both history and ledger.
	var (
		historyStore history.Store
		ledgerStore  ledger.Store
	)
	window := cfg.Assistant.HistoryLimit
	switch cfg.BasicConfig.Storage {
	case "mongo", "mongodb":
		var client *mongo.Client
		var mdb *mongo.Database
		client, mdb, err = storage.OpenMongo(ctx, cfg)
		if err != nil {
			fatal("open mongo", err)
		}
		defer client.Disconnect(context.Background())
		if err := storage.MigrateMongo(ctx, mdb); err != nil {
			fatal("migrate mongo", err)
		}
		historyStore = history.NewMongoStore(mdb, window)
		ledgerStore = ledger.NewMongoStore(mdb)
	default:
		var db *sql.DB
		db, err = storage.Open(cfg.BasicConfig.Storage, cfg)
		if err != nil {
			fatal("open database", err)
		}
		defer db.Close()
		if err := storage.Migrate(db, cfg.BasicConfig.Storage); err != nil {
			fatal("migrate database", err)
		}
		historyStore = history.NewSQLStore(db, window)
		ledgerStore = ledger.NewSQLStore(db)
	}
	log.Info("storage ready", "storage", cfg.BasicConfig.Storage)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			fatal("create redis client", err)
		}
		defer rdb.Close()
		historyStore = history.NewCachedStore(historyStore, rdb, time.Duration(cfg.Redis.HistoryTTL)*time.Minute)
	}

	var summaries summarycache.Cache
	summaryTTL := time.Duration(cfg.Assistant.SummaryCacheTTL) * time.Minute
	if cfg.Assistant.SummaryCache == "redis" {
		summaries = summarycache.NewRedis(rdb, summaryTTL)
	} else {
		mem := summarycache.NewMemory(summaryTTL, cfg.Assistant.SummaryCacheSize)
		defer mem.Close()
		summaries = mem
	}

	prompts, err := prompt.Load(ctx, cfg.Prompts)
	if err != nil {
		fatal("load prompts", err)
	}

	provider := cfg.BasicConfig.Provider
	chatModel, err := ai.NewChatModel(ctx, provider, cfg.Providers[provider])
	if err != nil {
		fatal("init chat model", err)
	}
	search, err := ai.NewWebSearch(ctx, cfg.Search, cfg.Assistant.SearchDepth)
	if err != nil {
		fatal("init web search", err)
	}
	gateway := ai.NewService(chatModel, search, ai.NewPageFetcher(cfg.Timeouts.FetchTimeout()), ai.Options{
		Timeout:       cfg.Timeouts.GatewayTimeout(),
		SummaryPrompt: prompts.Summary,
	})

	assistantService := assistant.NewService(gateway, historyStore, summaries, assistant.Config{
		SystemPrompt:     prompts.System,
		ImageInstruction: prompts.ImageInstruction,
		SynthesisPrompt:  prompts.Synthesis,
		FailMarkers:      prompts.FailMarkers,
		SearchDepth:      cfg.Assistant.SearchDepth,
		QueryLimit:       cfg.Assistant.QueryLimit,
		PageTextLimit:    cfg.Assistant.PageTextLimit,
		SummaryLimit:     cfg.Assistant.SummaryLimit,
		SummaryWorkers:   cfg.Assistant.SummaryWorkers,
		StoreTimeout:     cfg.Timeouts.StoreTimeout(),
	})

	renderer, err := chart.NewRenderer(cfg.Chart.Dir, cfg.Chart.FontPath)
	if err != nil {
		fatal("init chart renderer", err)
	}
	retention := time.Duration(cfg.Chart.Retention) * time.Minute
	renderer.StartCleaner(ctx, time.Duration(cfg.Chart.CleanInterval)*time.Minute, retention)

	book := ledger.New(ledgerStore)
	classifier := accounting.NewClassifier(gateway, prompts.Accounting, book.Now)
	accountant := accounting.NewAccountant(book, renderer, accounting.Options{
		PublicBaseURL: cfg.BasicConfig.PublicBaseURL,
		StoreTimeout:  cfg.Timeouts.StoreTimeout(),
		RenderTimeout: cfg.Timeouts.RenderTimeout(),
	})

	lineClient, err := line.NewClient(cfg.Line, cfg.Timeouts.FetchTimeout())
	if err != nil {
		fatal("init line client", err)
	}
	routerService := router.NewService(assistantService, classifier, accountant, lineClient, router.Options{
		ChartRetention: retention,
		EventTimeout:   cfg.Timeouts.EventTimeout(),
	})

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}, func(ctx context.Context, job worker.Job) error {
		return routerService.Process(ctx, job.Event)
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.NewHandler(lineClient, dispatcher, renderer.Dir()).RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server stopped", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.EventTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn("worker shutdown", "err", err)
	}
}
