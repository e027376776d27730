package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-dispatch/cmd/dispatcher/server/handler"
	"delivery-dispatch/cmd/dispatcher/server/service"
	"delivery-dispatch/pkg/alerts"
	"delivery-dispatch/pkg/assignment"
	"delivery-dispatch/pkg/broadcast"
	"delivery-dispatch/pkg/database"
	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/geofence"
	"delivery-dispatch/pkg/kafka"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/scheduler"
	"delivery-dispatch/pkg/sla"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	Config   ServerConfig
	Router   *gin.Engine
	Producer *kafka.Producer
	Consumer *kafka.Consumer

	store       *state.Store
	hub         *broadcast.Hub
	engine      *assignment.Engine
	monitor     *sla.Monitor
	service     *service.Service
	backlog     *scheduler.DelayQueue[string]
	writeBehind *database.WriteBehind
	db          *database.Database
	retryDelay  time.Duration
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func NewServer(ctx context.Context, conf ServerConfig, prodConf kafka.ProducerConfig, consConf kafka.ConsumerConfig) (*Server, error) {
	store, err := state.NewStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to build state store: %w", err)
	}

	producer := kafka.NewProducer(prodConf)
	hub := broadcast.NewHub(broadcast.NewKafkaNotifier(producer), utils.GetEnvInt("BROADCAST_BUFFER", 64))

	var db *database.Database
	var writeBehind *database.WriteBehind
	if utils.GetEnv("PGSQL_URL", "") != "" {
		db, err = database.NewPGDatabase(ctx)
		if err != nil {
			return nil, err
		}
		writeBehind = database.NewWriteBehind(db)
	}

	router := routing.NewHaversineRouter()
	backlog := scheduler.NewQueue[string](256)
	assignConf := assignment.ConfigFromEnv()

	var sink assignment.Sink
	if writeBehind != nil {
		sink = writeBehind
	}
	engine := assignment.NewEngine(store, router, hub, sink, backlog, assignConf)

	alertRepo := state.NewMemoryRepo(func(a models.SystemAlert) string { return a.AlertId })
	var alertSink alerts.Sink
	if writeBehind != nil {
		alertSink = writeBehind
	}
	alertStore := alerts.NewStore(alertRepo, hub, alertSink)

	detector := geofence.NewDetector(store, router, hub, geofence.ConfigFromEnv())
	monitor := sla.NewMonitor(store, alertStore, hub, engine, sla.ConfigFromEnv())

	var svcSink service.Sink
	if writeBehind != nil {
		svcSink = writeBehind
	}
	svc := service.NewService(store, engine, detector, alertStore, router, hub, svcSink)

	dispatchHandler := handler.NewHandler(svc, store, engine, alertStore)
	streamHandler := handler.NewStreamHandler(hub)

	s := &Server{
		Config:      conf,
		Producer:    producer,
		Consumer:    kafka.NewConsumer(consConf, producer),
		store:       store,
		hub:         hub,
		engine:      engine,
		monitor:     monitor,
		service:     svc,
		backlog:     backlog,
		writeBehind: writeBehind,
		db:          db,
		retryDelay:  assignConf.RetryDelay,
	}
	s.setupRouter(dispatchHandler, streamHandler)

	if db != nil {
		if err := s.warmState(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// warmState seeds the in-memory store from persistence on startup; from
// then on persistence only trails the store.
func (s *Server) warmState(ctx context.Context) error {
	orders, err := s.db.LoadActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("Failed to load active orders: %w", err)
	}
	for _, order := range orders {
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
	}

	riders, err := s.db.LoadOnlineRiders(ctx)
	if err != nil {
		return fmt.Errorf("Failed to load online riders: %w", err)
	}
	for _, rider := range riders {
		if err := s.store.PutRider(ctx, rider); err != nil {
			return err
		}
	}

	log.Printf("Warmed state store with %d active orders, %d online riders", len(orders), len(riders))
	return nil
}

func (s *Server) setupRouter(h *handler.Handler, stream *handler.StreamHandler) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
			orders.POST("/:id/status", h.UpdateOrderStatus)
			orders.POST("/:id/assign", h.AssignOrder)
			orders.POST("/:id/reassign", h.ReassignOrder)
		}

		riders := api.Group("/riders")
		{
			riders.POST("", h.RegisterRider)
			riders.GET("", h.ListRiders)
			riders.POST("/:id/location", h.RiderLocation)
			riders.POST("/:id/online", h.RiderOnline)
			riders.POST("/:id/offline", h.RiderOffline)
		}

		alertsGroup := api.Group("/alerts")
		{
			alertsGroup.GET("", h.ListAlerts)
			alertsGroup.POST("/:id/ack", h.AcknowledgeAlert)
		}

		api.GET("/events/stream", stream.EventStream)
	}
	router.GET("/health", h.HealthCheck)

	s.Router = router
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", s.Config.Port),
		Handler:      s.Router,
		ReadTimeout:  s.Config.ReadTimeout,
		WriteTimeout: s.Config.WriteTimeout,
		IdleTimeout:  s.Config.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Printf("Dispatcher starting on %s", s.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		err := s.monitor.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		s.drainBacklog(groupCtx)
		return nil
	})

	group.Go(func() error {
		err := s.Consumer.ConsumeMessages(groupCtx, func(ctx context.Context, msg kafka.Message) error {
			return s.service.Dispatcher.Dispatch(msg.Value)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if s.writeBehind != nil {
		group.Go(func() error {
			err := s.writeBehind.Run(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown(srv)
	})

	return group.Wait()
}

// drainBacklog retries assignment for orders the engine could not place,
// backing off per attempt.
func (s *Server) drainBacklog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-s.backlog.Out:
			if !ok {
				return
			}
			orderId := entry.Value
			_, err := s.engine.Assign(ctx, orderId, "")
			if err == nil {
				continue
			}
			// Only a rider shortage is retryable. Terminal or vanished
			// orders leave the backlog for good.
			if !errors.Is(err, svcerror.ErrNoRiderAvailable) {
				log.Printf("[BACKLOG] Dropping order %s after retry %d: %v", orderId, entry.Attempt, err)
				s.backlog.Remove(orderId)
				continue
			}
			backoff := s.retryDelay * time.Duration(min(entry.Attempt+1, 8))
			log.Printf("[BACKLOG] Retry %d for order %s failed, next attempt in %s", entry.Attempt, orderId, backoff)
			if err := s.backlog.Push(orderId, orderId, backoff); err != nil {
				return
			}
		}
	}
}

func (s *Server) shutdown(srv *http.Server) error {
	log.Printf("Shutting down Dispatcher...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.backlog.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
		return err
	}

	if err := s.Consumer.Close(); err != nil {
		log.Printf("Failed to close kafka Consumer: %v", err)
	}
	if err := s.Producer.Close(); err != nil {
		log.Printf("Failed to close kafka Producer: %v", err)
		return err
	}
	if s.db != nil {
		s.db.Close()
	}

	log.Printf("Dispatcher stopped")
	return nil
}
