// Package registry implements the optional fleet-wide worker heartbeat
// (spec.md section 4.11): a periodic upsert announcing this process is
// alive, so an operator (or another service) can discover live workers
// and their last-seen time without polling each one directly. It is
// entirely optional: an empty MONGODB_URI yields a no-op Heartbeater and
// the worker runs exactly as it would without a registry.
package registry

import (
	"context"
	"time"

	"github.com/jobengine/worker-core/internal/config"
	"github.com/jobengine/worker-core/internal/obslog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Heartbeater periodically announces a worker's liveness until ctx is
// cancelled. Start blocks for the caller's convenience (run it in its
// own goroutine); it returns nil when ctx is done.
type Heartbeater interface {
	Start(ctx context.Context, workerID string) error
	Close(ctx context.Context) error
}

// New builds a Heartbeater from cfg. An empty MongoURI disables the
// registry entirely.
func New(cfg config.Registry, log *zap.Logger) (Heartbeater, error) {
	if cfg.MongoURI == "" {
		return noopHeartbeater{}, nil
	}
	return newMongoHeartbeater(cfg, log)
}

type noopHeartbeater struct{}

func (noopHeartbeater) Start(ctx context.Context, workerID string) error {
	<-ctx.Done()
	return nil
}

func (noopHeartbeater) Close(ctx context.Context) error { return nil }

// mongoHeartbeater upserts one document per worker_id into a MongoDB
// collection on every tick, the way the teacher's Redis worker loop sets
// a per-worker heartbeat key with a TTL on every claimed job: here the
// TTL is carried as an expires_at field paired with a collection-level
// TTL index (created once, out of band), rather than a key-level TTL,
// since Mongo has no per-document expire primitive short of that.
type mongoHeartbeater struct {
	client   *mongo.Client
	coll     *mongo.Collection
	interval time.Duration
	ttl      time.Duration
	version  string
	log      *zap.Logger
}

func newMongoHeartbeater(cfg config.Registry, log *zap.Logger) (*mongoHeartbeater, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = 90 * time.Second
	}

	db := cfg.MongoDatabase
	if db == "" {
		db = "worker_registry"
	}

	return &mongoHeartbeater{
		client:   client,
		coll:     client.Database(db).Collection("worker_heartbeats"),
		interval: interval,
		ttl:      ttl,
		version:  cfg.ServiceVersion,
		log:      log,
	}, nil
}

// Start upserts a heartbeat document immediately and then every
// interval, until ctx is cancelled.
func (h *mongoHeartbeater) Start(ctx context.Context, workerID string) error {
	h.beat(ctx, workerID)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.beat(ctx, workerID)
		}
	}
}

func (h *mongoHeartbeater) beat(ctx context.Context, workerID string) {
	now := time.Now()
	filter := bson.M{"worker_id": workerID}
	update := bson.M{"$set": bson.M{
		"worker_id":  workerID,
		"version":    h.version,
		"updated_at": now,
		"expires_at": now.Add(h.ttl),
	}}
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := h.coll.UpdateOne(opCtx, filter, update, options.Update().SetUpsert(true)); err != nil {
		h.log.Warn("heartbeat upsert failed", obslog.Err(err), obslog.String("worker_id", workerID))
	}
}

// Close disconnects the underlying Mongo client. Safe to call once
// during shutdown.
func (h *mongoHeartbeater) Close(ctx context.Context) error {
	return h.client.Disconnect(ctx)
}

var _ Heartbeater = (*mongoHeartbeater)(nil)
var _ Heartbeater = noopHeartbeater{}
