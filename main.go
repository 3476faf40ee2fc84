package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	orchestrator "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/agents/orchestrator"
	calendarx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/calendar"
	channelx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/channel"
	contractx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/contract"
	crmx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/crm"
	"github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/llm"
	promptx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/prompt"
	ragx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/rag"
	replyx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/reply"
	statex "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/state"
	toolx "github.com/tanpawarit/Chative-Omnichannel-Concierge/agent/tool"
	configx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/config"
	_ "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/openrouter"
	postgresx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/postgres"
	qstashx "github.com/tanpawarit/Chative-Omnichannel-Concierge/pkg/qstash"
)

type AppConfig struct {
	ReplyMessagesFile string        `envconfig:"REPLY_MESSAGES_FILE"`
	KnowledgeFile     string        `envconfig:"KNOWLEDGE_FILE"`
	CustomersFile     string        `envconfig:"CUSTOMERS_FILE"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type backends struct {
	retriever contractx.ContextRetriever
	directory contractx.CustomerDirectory
	calendar  calendarx.Repository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llm.Config]("LLM")
	orchCfg := configx.MustNew[orchestrator.Config]("ORCHESTRATOR")
	calCfg := configx.MustNew[calendarx.Config]("CALENDAR")
	channelCfg := configx.MustNew[channelx.Config]("HTTP")

	location, err := orchCfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("load time zone")
	}

	chatCfg := llmCfg.OpenRouter()
	chatModel, err := chatCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("create chat model")
	}
	gateway, err := llm.NewGateway(chatModel)
	if err != nil {
		log.Fatal().Err(err).Msg("create model gateway")
	}

	store := mustStore()

	b, closeDB := mustBackends(ctx, llmCfg, mustSeed(appCfg))
	defer closeDB()

	hours, err := calCfg.Hours()
	if err != nil {
		log.Fatal().Err(err).Msg("parse business hours")
	}
	calendar := calendarx.NewService(b.calendar, hours, location)

	var formatterOpts []replyx.Option
	if appCfg.ReplyMessagesFile != "" {
		catalog, err := replyx.LoadCatalogFile(appCfg.ReplyMessagesFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load reply messages")
		}
		formatterOpts = append(formatterOpts, replyx.WithCatalog(catalog))
	}
	formatter := replyx.New(formatterOpts...)

	builder, err := promptx.NewBuilder(location)
	if err != nil {
		log.Fatal().Err(err).Msg("load prompts")
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Retriever: b.retriever,
		Directory: b.directory,
		Tools:     toolx.NewRegistry(calendar, b.directory),
		Model:     gateway,
		Formatter: formatter,
		Prompt:    builder,
	}, *orchCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create orchestrator")
	}

	var channelOpts []channelx.Option
	if configx.IsSet("QSTASH") {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		channelOpts = append(channelOpts, channelx.WithQueue(qstashx.MustNew(*qstashCfg)))
		log.Info().Msg("voice tool resolution via qstash")
	}
	handler := channelx.New(orch, formatter, *channelCfg, channelOpts...)

	router := gin.New()
	router.Use(gin.Recovery(), channelx.RequestLogger())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              channelCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	handler.Wait()
}

func mustStore() statex.Store {
	if !configx.IsSet("UPSTASH_REDIS") {
		log.Info().Msg("session store: memory")
		return statex.NewMemoryStore()
	}
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	store, err := statex.NewUpstashRedisStore(*redisCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create upstash redis store")
	}
	log.Info().Msg("session store: upstash redis")
	return store
}

// mustBackends opens PostgreSQL when configured; otherwise knowledge, CRM and
// calendar live in memory.
func mustBackends(ctx context.Context, llmCfg *llm.Config, s seed) (backends, func()) {
	if !configx.IsSet("POSTGRES") {
		log.Warn().Msg("POSTGRES_DSN not set, using in-memory knowledge, directory and calendar")
		return backends{
			retriever: ragx.NewStaticRetriever(s.passages...),
			directory: crmx.NewMemoryDirectory(s.customers...),
			calendar:  calendarx.NewMemoryRepository(),
		}, func() {}
	}

	pgCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	db, err := postgresx.Open(ctx, *pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	if pgCfg.Migrate {
		if err := postgresx.Migrate(ctx, db, ragx.Migration(), crmx.Migration(), calendarx.Migration()); err != nil {
			log.Fatal().Err(err).Msg("migrate postgres")
		}
	}

	embedder, err := ragx.NewOpenAIEmbedder(openrouterx.NewClient(llmCfg.Embeddings()), llmCfg.EmbeddingModel)
	if err != nil {
		log.Fatal().Err(err).Msg("create embedder")
	}

	retriever := ragx.NewRetriever(db, embedder)
	if len(s.passages) > 0 {
		n, err := retriever.Seed(ctx, s.passages)
		if err != nil {
			log.Fatal().Err(err).Msg("seed knowledge base")
		}
		log.Info().Int("indexed", n).Msg("knowledge base seeded")
	}

	directory := crmx.NewDirectory(db)
	if err := directory.Seed(ctx, s.customers); err != nil {
		log.Fatal().Err(err).Msg("seed customers")
	}

	return backends{
		retriever: retriever,
		directory: directory,
		calendar:  calendarx.NewBunRepository(db),
	}, closer(db)
}

type seed struct {
	passages  []ragx.Passage
	customers []contractx.Customer
}

func mustSeed(cfg *AppConfig) seed {
	var s seed
	var err error
	if cfg.KnowledgeFile != "" {
		if s.passages, err = ragx.LoadPassagesFile(cfg.KnowledgeFile); err != nil {
			log.Fatal().Err(err).Msg("load knowledge file")
		}
	}
	if cfg.CustomersFile != "" {
		if s.customers, err = crmx.LoadCustomersFile(cfg.CustomersFile); err != nil {
			log.Fatal().Err(err).Msg("load customers file")
		}
	}
	return s
}

func closer(db *bun.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("close postgres")
		}
	}
}
