// skilllearn-worker runs the skill-learning orchestrator: the distillation
// and skill-agent message-bus consumers of spec.md §4.3-§4.5.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/codeready-toolchain/skilllearn/pkg/bus"
	"github.com/codeready-toolchain/skilllearn/pkg/busmsg"
	"github.com/codeready-toolchain/skilllearn/pkg/config"
	"github.com/codeready-toolchain/skilllearn/pkg/database"
	"github.com/codeready-toolchain/skilllearn/pkg/kvcoord"
	"github.com/codeready-toolchain/skilllearn/pkg/llmclient"
	"github.com/codeready-toolchain/skilllearn/pkg/masking"
	"github.com/codeready-toolchain/skilllearn/pkg/orchestrator"
	"github.com/codeready-toolchain/skilllearn/pkg/pending"
	"github.com/codeready-toolchain/skilllearn/pkg/sessionstatus"
	"github.com/codeready-toolchain/skilllearn/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8081")
	log.Printf("Starting %s", version.Full())
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	slCfg := cfg.SkillLearn

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	etcdEndpoints := getEnv("ETCD_ENDPOINTS", "localhost:2379")
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{etcdEndpoints},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}
	defer func() {
		if err := etcdClient.Close(); err != nil {
			log.Printf("Error closing etcd client: %v", err)
		}
	}()
	log.Println("✓ Connected to etcd")

	llmClient := llmclient.NewHTTPClient(llmclient.Config{
		BaseURL: getEnv("LLM_BASE_URL", "http://localhost:9000"),
		Model:   getEnv("LLM_MODEL", "default"),
		APIKey:  os.Getenv("LLM_API_KEY"),
		Timeout: slCfg.LLMCallTimeout,
	})

	locker := kvcoord.New(etcdClient)
	pendingQueue := pending.New(etcdClient)
	status := sessionstatus.New(dbClient.Client)

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Password, dbConfig.Database, dbConfig.SSLMode,
	)
	registry := bus.New(dbClient.Client, connString, bus.Options{
		ConsumerID:   getEnv("CONSUMER_ID", "skilllearn-worker"),
		PollInterval: 2 * time.Second,
	})

	maskingService := masking.NewMaskingService(
		config.NewMCPServerRegistry(nil),
		masking.AlertMaskingConfig{Enabled: true, PatternGroup: "all"},
	)
	distillationConsumer := orchestrator.NewDistillationConsumer(
		dbClient.Client, status, &orchestrator.LLMDistiller{LLM: llmClient, Masker: maskingService}, registry)
	registry.Register(
		bus.Binding{Exchange: busmsg.ExchangeLearningSkill, RoutingKey: busmsg.RoutingKeyDistill, Queue: busmsg.QueueDistillEntry},
		slCfg.LLMCallTimeout*2,
		distillationConsumer.Handle,
	)

	skillAgentConsumer := orchestrator.NewSkillAgentConsumer(
		dbClient.Client, status, locker, pendingQueue, llmClient, registry,
		slCfg.LockTTL, slCfg.AgentMaxIterations, slCfg.MaxContextsPerAgentRun, slCfg.ExtraIterationsPerContextBatch,
	)
	registry.Register(
		bus.Binding{Exchange: busmsg.ExchangeLearningSkill, RoutingKey: busmsg.RoutingKeyAgent, Queue: busmsg.QueueAgentEntry},
		slCfg.AgentConsumerTimeout,
		skillAgentConsumer.Handle,
	)

	registry.Start(ctx)
	defer registry.Stop()
	log.Println("✓ Message-bus consumers registered and polling")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := database.Health(reqCtx, dbClient.DB()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","version":"` + version.Full() + `"}`))
	})
	server := &http.Server{Addr: ":" + httpPort, Handler: mux}

	go func() {
		log.Printf("HTTP health endpoint listening on :%s", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down skilllearn-worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down health server: %v", err)
	}
}
