package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/activitypub"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
	"github.com/vireo-social/vireo/web"
)

// App represents the federation server with its HTTP listener and
// background workers.
type App struct {
	config      *util.AppConfig
	httpServer  *http.Server
	stopWorkers chan struct{}
	done        chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config:      conf,
		stopWorkers: make(chan struct{}),
		done:        make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database, ensures the instance service account
// exists, and builds the HTTP server.
func (a *App) Initialize() error {
	// Opening the database runs migrations.
	database := db.GetDB()

	if err := ensureInstanceActor(database, a.config); err != nil {
		return fmt.Errorf("failed to create instance actor: %w", err)
	}

	router, err := web.Router(a.config)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP router: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Conf.HttpPort),
		Handler: router,
	}

	return nil
}

// Start starts the HTTP server and the background workers and blocks until
// a shutdown signal is received
func (a *App) Start() error {
	activitypub.StartDeliveryWorker(a.config, a.stopWorkers)
	activitypub.StartJobWorker(a.config, a.stopWorkers)

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting HTTP server on %s:%d", a.config.Conf.Host, a.config.Conf.HttpPort)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown gracefully stops the server and workers with a 30 second timeout
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	close(a.stopWorkers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("Stopping HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Println("HTTP server stopped gracefully")
	return nil
}

// ensureInstanceActor creates the local service account used to sign
// outbound fetches when none exists yet.
func ensureInstanceActor(database *db.DB, conf *util.AppConfig) error {
	err, _ := database.ReadLocalActorByUsername(activitypub.InstanceActorName)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return err
	}

	log.Printf("Creating instance actor %s", activitypub.InstanceActorName)
	keys := util.GeneratePemKeypair()
	now := time.Now()
	uri := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, activitypub.InstanceActorName)

	actor := &domain.Actor{
		Id:            uuid.New(),
		Username:      activitypub.InstanceActorName,
		Domain:        "",
		URI:           uri,
		ActorType:     "Service",
		DisplayName:   conf.Conf.SslDomain,
		InboxURI:      fmt.Sprintf("https://%s/inbox", conf.Conf.SslDomain),
		OutboxURI:     uri + "/outbox",
		FollowersURI:  uri + "/followers",
		PublicKeyPem:  keys.Public,
		PublicKeyId:   uri + "#main-key",
		PrivateKeyPem: keys.Private,
		Protocol:      domain.ProtocolActivityPub,
		CreatedAt:     now,
	}
	return database.CreateActor(actor)
}
