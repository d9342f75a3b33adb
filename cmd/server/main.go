package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/iot"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/router"
	"github.com/iliyamo/parking-reservation/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg)

	// Redis is optional: identity sessions, rate limits and the cache all
	// degrade to in-process state without it.
	rdb := config.NewRedisClient()
	var reg identity.Registry = identity.NewMemoryRegistry()
	if rdb != nil {
		reg = identity.NewRedisRegistry(rdb)
	}
	ids := identity.NewManager(reg, rdb)
	go ids.Listen(ctx)

	var events service.EventPublisher
	var publisher *queue.Publisher
	if cfg.RabbitURL != "" {
		publisher = queue.NewPublisher(cfg.RabbitURL)
		events = publisher
		go func() {
			if err := queue.StartEventConsumer(ctx, cfg.RabbitURL, cfg.EventLogDir); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("event-consumer: stopped: %v", err)
			}
		}()
	} else {
		log.Printf("events: RABBITMQ_URL not set, domain events are not published")
	}

	broker := realtime.NewBroker()
	svc := service.New(store, broker, ids, events, service.Options{
		JWTSecret:        cfg.JWTSecret,
		AccessTTL:        cfg.AccessTTL(),
		RefreshTTL:       cfg.RefreshTTL(),
		BcryptCost:       cfg.BcryptCost,
		Location:         cfg.Location(),
		AllowStaffSignup: cfg.AllowStaffSignup,
	})

	var gateStore iot.Store = iot.NewMemoryStore()
	mongoClient := config.NewMongoClient(cfg.MongoURI)
	if mongoClient != nil {
		ms := iot.NewMongoStore(mongoClient, cfg.MongoDB)
		ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := ms.EnsureIndexes(ictx); err != nil {
			log.Printf("iot: ensure indexes: %v", err)
		}
		cancel()
		gateStore = ms
	}
	proc := iot.NewProcessor(gateStore, svc)
	go proc.Run(ctx, broker)

	sched, err := jobs.New(jobs.Config{
		ExpirySchedule: cfg.ExpirySchedule,
		PruneSchedule:  cfg.PruneSchedule,
		Location:       cfg.Location(),
	}, svc, proc)
	if err != nil {
		log.Fatal(err)
	}
	sched.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.RegisterRoutes(e, router.Handlers{
		Auth:         handler.NewAuthHandler(svc),
		Lots:         handler.NewLotHandler(svc),
		Reservations: handler.NewReservationHandler(svc),
		Sessions:     handler.NewSessionHandler(svc),
		Vehicles:     handler.NewVehicleHandler(svc),
		Staff:        handler.NewStaffHandler(svc),
		IoT:          handler.NewIoTHandler(proc),
		Stream:       handler.NewStreamHandler(svc, cfg.CORSOrigins),
	}, router.Middleware{
		JWT:       middleware.JWTAuth(svc),
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:     middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
		Device:    middleware.DeviceKey(cfg.DeviceKey),
	})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.DeviceHeader},
			ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining", "X-Cache"},
			AllowCredentials: true,
		}).Handler(e),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (env=%s, store=%s)", srv.Addr, cfg.Env, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	sched.Stop(shutdownCtx)
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("events: close publisher: %v", err)
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			log.Printf("mongo: disconnect: %v", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// openStore picks the persistence backend named by STORE_DRIVER.
func openStore(ctx context.Context, cfg config.Config) service.Store {
	if cfg.StoreDriver == config.DriverMemory {
		log.Printf("store: using in-memory store, data is lost on restart")
		return repository.NewMemoryStore()
	}
	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(mctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return repository.NewMySQLStore(db)
}
