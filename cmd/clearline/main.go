// Command clearline wires the platform together and runs its background
// loops: the legislation health probe and the dataset change detector. The
// HTTP surface is deployed separately; this process owns every long-lived
// collaborator (datastore pool, event hub, model clients) and hands them to
// the agent pipeline and the review engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"github.com/clearline-ai/clearline/agent"
	"github.com/clearline-ai/clearline/config"
	eventsredis "github.com/clearline-ai/clearline/events/redis"
	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/model/anthropic"
	"github.com/clearline-ai/clearline/model/openai"
	"github.com/clearline-ai/clearline/retrieval"
	"github.com/clearline-ai/clearline/retrieval/pgvector"
	"github.com/clearline-ai/clearline/review"
	"github.com/clearline-ai/clearline/store"
	"github.com/clearline-ai/clearline/verify"
)

// platform bundles the wired collaborators for the lifetime of the process.
type platform struct {
	cfg      config.Config
	db       *sqlx.DB
	redis    *goredis.Client
	store    *store.Store
	hub      *eventsredis.Hub
	health   *legislation.HealthManager
	detector *legislation.ChangeDetector
	pipeline *agent.Pipeline
	engine   *review.Engine
}

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	p, err := wire(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}
	defer p.close(ctx)

	// Channel used by both the signal handler and the background loops to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	go p.health.Run(ctx)
	go p.detector.Run(ctx, cfg.ChangeCheckInterval())

	log.Print(ctx, log.KV{K: "msg", V: "clearline started"},
		log.KV{K: "legislation", V: p.health.Status().Active},
		log.KV{K: "replay-window", V: cfg.ReplayWindow()},
		log.KV{K: "cache-enabled", V: cfg.Cache.Enabled})

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	log.Printf(ctx, "exited")
}

// wire builds every collaborator from the configuration, failing fast on the
// first one that cannot be constructed.
func wire(ctx context.Context, cfg config.Config) (*platform, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect datastore: %w", err)
	}
	st := store.New(db)

	redisOpts, err := goredis.ParseURL(cfg.EventBusURL)
	if err != nil {
		return nil, fmt.Errorf("parse event bus url: %w", err)
	}
	redisClient := goredis.NewClient(redisOpts)
	hub, err := eventsredis.NewHub(eventsredis.Options{
		Client:    redisClient,
		Window:    cfg.ReplayWindow(),
		Heartbeat: cfg.Heartbeat(),
	})
	if err != nil {
		return nil, err
	}

	health, err := legislation.NewHealthManager(legislation.HealthOptions{
		PrimaryURL:  cfg.Legislation.PrimaryURL,
		FallbackURL: cfg.Legislation.FallbackURL,
		Interval:    cfg.HealthCheckInterval(),
	})
	if err != nil {
		return nil, err
	}
	// One limiter shared by every handed-out client keeps the aggregate
	// request rate against the legislation service polite.
	factory := legislation.NewClientFactory(health, nil, rate.NewLimiter(rate.Limit(10), 20))
	gateway := legislationGateway{factory: factory}

	detector, err := legislation.NewChangeDetector(gateway, cfg.Legislation.SnapshotDir)
	if err != nil {
		return nil, err
	}

	verifier, err := verify.NewWithFactory(factory)
	if err != nil {
		return nil, err
	}

	router := model.TierRouter{
		Fast:     cfg.Models.Fast,
		Standard: cfg.Models.Standard,
		Advanced: cfg.Models.Advanced,
	}
	modelClient, err := anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, anthropic.Options{Router: router})
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	embedder, err := openai.NewFromAPIKey(cfg.OpenAIAPIKey, openai.Options{
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BatchSize:  cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	index, err := pgvector.NewStore(pgvector.Options{DB: db, Dimensions: cfg.Embedding.Dimensions})
	if err != nil {
		return nil, err
	}
	search, err := retrieval.New(retrieval.Options{
		Embedder: embedder,
		Vector:   index,
		Keyword:  index,
		Enricher: index,
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := agent.New(agent.Options{
		Store:          agentStore{st},
		Hub:            hub,
		Model:          modelClient,
		Embedder:       embedder,
		Search:         search,
		Legislation:    gateway,
		Verifier:       verifier,
		Models:         router,
		CacheThreshold: cfg.Cache.HitThreshold,
		CacheTTL:       cfg.CacheTTL(),
		CacheRead:      &cfg.Cache.Enabled,
	})
	if err != nil {
		return nil, err
	}

	engine, err := review.NewEngine(review.Options{
		Store:       reviewStore{st},
		Hub:         hub,
		Model:       modelClient,
		Search:      search,
		Legislation: gateway,
	})
	if err != nil {
		return nil, err
	}

	return &platform{
		cfg:      cfg,
		db:       db,
		redis:    redisClient,
		store:    st,
		hub:      hub,
		health:   health,
		detector: detector,
		pipeline: pipeline,
		engine:   engine,
	}, nil
}

func (p *platform) close(ctx context.Context) {
	if err := p.store.Close(); err != nil {
		log.Errorf(ctx, err, "close datastore")
	}
	if err := p.redis.Close(); err != nil {
		log.Errorf(ctx, err, "close event bus")
	}
}

// legislationGateway binds a fresh client to the currently active endpoint on
// every call so consumers follow failover without retry logic of their own.
type legislationGateway struct {
	factory *legislation.ClientFactory
}

func (g legislationGateway) SearchLegislation(ctx context.Context, f legislation.SearchFilters) (*legislation.SearchResult, error) {
	return g.factory.Client().SearchLegislation(ctx, f)
}

func (g legislationGateway) SearchSections(ctx context.Context, query string) (*legislation.SearchResult, error) {
	return g.factory.Client().SearchSections(ctx, query)
}

func (g legislationGateway) SearchAmendments(ctx context.Context, query string) (*legislation.SearchResult, error) {
	return g.factory.Client().SearchAmendments(ctx, query)
}

func (g legislationGateway) GetSections(ctx context.Context, legislationID string) ([]legislation.Section, error) {
	return g.factory.Client().GetSections(ctx, legislationID)
}

func (g legislationGateway) GetStatistics(ctx context.Context) (*legislation.Statistics, error) {
	return g.factory.Client().GetStatistics(ctx)
}

// agentStore and reviewStore adapt *store.Store to the interface-returning
// Session signatures the pipeline and engine declare.
type agentStore struct{ st *store.Store }

func (s agentStore) Session(ctx context.Context, tenant uuid.UUID) (agent.Session, error) {
	return s.st.Session(ctx, tenant)
}

type reviewStore struct{ st *store.Store }

func (s reviewStore) Session(ctx context.Context, tenant uuid.UUID) (review.Session, error) {
	return s.st.Session(ctx, tenant)
}
