package mapcluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/mapcluster/internal/cluster"
	"github.com/kailas-cloud/mapcluster/internal/db"
	dbRedis "github.com/kailas-cloud/mapcluster/internal/db/redis"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
	layerrepo "github.com/kailas-cloud/mapcluster/internal/repository/layer"
	healthuc "github.com/kailas-cloud/mapcluster/internal/usecase/health"
	layeruc "github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	viewportuc "github.com/kailas-cloud/mapcluster/internal/usecase/viewport"
)

const defaultReadinessTimeout = 10 * time.Second

// Внутренние интерфейсы для подмены в тестах.
type layerUseCase interface {
	Create(ctx context.Context, name string, clustered bool) (domlayer.Layer, error)
	Get(ctx context.Context, name string) (domlayer.Layer, error)
	List(ctx context.Context) []domlayer.Layer
	Delete(ctx context.Context, name string) error
	AddItems(ctx context.Context, name string, specs []item.Spec) ([]item.ID, error)
	RemoveItem(ctx context.Context, name string, id item.ID) error
	Cluster(ctx context.Context, name string) (cluster.Stats, error)
	Query(ctx context.Context, name string, viewport geo.Rect, zoom int) ([]*item.Item, *layeruc.Snapshot, error)
	Snapshot(name string) (*layeruc.Snapshot, error)
	Stale(name string) (bool, error)
}

type viewportUseCase interface {
	Open(ctx context.Context, layerName string) (viewportuc.Info, error)
	Update(ctx context.Context, id string, viewport geo.Rect, zoom int) (viewportuc.Update, error)
	Visible(ctx context.Context, id string) (viewportuc.View, error)
	Close(ctx context.Context, id string) error
}

// Client is the mapcluster SDK entry point.
type Client struct {
	store     db.Store
	layerSvc  layerUseCase
	viewSvc   viewportUseCase
	healthSvc healthUseCase
	obs       *observer
	stop      context.CancelFunc
}

// New creates a Client, connects to the database and loads every stored
// layer. The provided context is used for the readiness check and the load.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("mapcluster: database address required (use WithValkey or WithRedis)")
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("mapcluster: database not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}

	layerSvc := wireLayers(store, cfg)
	if err := layerSvc.LoadAll(ctx, cfg.layers); err != nil {
		store.Close()
		return nil, fmt.Errorf("mapcluster: load layers: %w", err)
	}

	viewSvc := viewportuc.New(layerSvc, viewportuc.Config{
		MaxSessions: cfg.maxSessions,
		TTL:         cfg.sessionTTL,
	}, nil)

	runCtx, stop := context.WithCancel(context.Background())
	if cfg.sessionTTL > 0 {
		go viewSvc.Run(runCtx, max(cfg.sessionTTL/4, time.Second))
	}

	return &Client{
		store:     store,
		layerSvc:  layerSvc,
		viewSvc:   viewSvc,
		healthSvc: healthuc.New(store, layerSvc),
		obs:       obs,
		stop:      stop,
	}, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "valkey", "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("mapcluster: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("mapcluster: unknown driver %q", cfg.driver)
	}
}

func wireLayers(store db.Store, cfg *clientConfig) *layeruc.Service {
	repo := layerrepo.New(store, cfg.keyPrefix)
	return layeruc.New(repo, layeruc.Config{
		Seed:               cfg.seed,
		MarkerSize:         item.Size{Width: cfg.markerWidth, Height: cfg.markerHeight},
		MaxClusterSize:     cfg.maxClusterSize,
		MaxRestarts:        cfg.maxRestarts,
		MeanRepresentative: cfg.meanRepresentative,
		OnWrite:            cfg.onWrite,
		MaxBatchSize:       cfg.maxBatchSize,
	}, nil)
}

// Close stops session eviction and releases all resources.
func (c *Client) Close() {
	if c.stop != nil {
		c.stop()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Layers returns the layer management service.
func (c *Client) Layers() *LayerService {
	return &LayerService{svc: c.layerSvc, obs: c.obs}
}

// Sessions returns the viewport session service.
func (c *Client) Sessions() *SessionService {
	return &SessionService{svc: c.viewSvc, obs: c.obs}
}
