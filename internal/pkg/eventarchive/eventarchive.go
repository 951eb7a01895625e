// Package eventarchive keeps a raw, append-only copy of every ledger event
// the reconciler receives, independent of how the event was applied.
package eventarchive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ManuelReschke/MindShield/app/models"
	"github.com/ManuelReschke/MindShield/internal/pkg/config"
	"github.com/ManuelReschke/MindShield/internal/pkg/ledger"
)

// ErrDisabled is returned by read operations of the Noop archive.
var ErrDisabled = errors.New("event archive disabled")

// Record is the document stored per ledger log entry.
type Record struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	EventKey    string             `json:"eventKey" bson:"eventKey"`
	Kind        string             `json:"kind" bson:"kind"`
	User        string             `json:"user" bson:"user"`
	Company     string             `json:"company" bson:"company"`
	LicenseID   uint64             `json:"licenseId" bson:"licenseId"`
	Amount      string             `json:"amount,omitempty" bson:"amount,omitempty"`
	BlockNumber uint64             `json:"blockNumber" bson:"blockNumber"`
	TxHash      string             `json:"txHash" bson:"txHash"`
	LogIndex    uint               `json:"logIndex" bson:"logIndex"`
	ReceivedAt  time.Time          `json:"receivedAt" bson:"receivedAt"`
}

// NewRecord converts a ledger event into its archived form.
func NewRecord(ev ledger.Event, receivedAt time.Time) Record {
	rec := Record{
		EventKey:    models.LedgerEventKey(ev.TxHash.Hex(), ev.LogIndex),
		Kind:        string(ev.Kind),
		User:        models.NormalizeAddress(ev.User.Hex()),
		Company:     models.NormalizeAddress(ev.Company.Hex()),
		LicenseID:   ev.LicenseID,
		BlockNumber: ev.BlockNumber,
		TxHash:      strings.ToLower(ev.TxHash.Hex()),
		LogIndex:    ev.LogIndex,
		ReceivedAt:  receivedAt.UTC(),
	}
	if ev.Amount != nil {
		rec.Amount = ev.Amount.String()
	}
	return rec
}

// Archive stores and lists raw ledger events.
type Archive interface {
	Append(ctx context.Context, ev ledger.Event) error
	Recent(ctx context.Context, limit int64) ([]Record, error)
	Close(ctx context.Context) error
}

// Noop is used when no MONGO_URI is configured.
type Noop struct{}

func (Noop) Append(context.Context, ledger.Event) error { return nil }

func (Noop) Recent(context.Context, int64) ([]Record, error) { return nil, ErrDisabled }

func (Noop) Close(context.Context) error { return nil }

// Mongo archives events in a MongoDB collection with a unique index on the
// event key, so redelivered events are stored once.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// Open returns a Noop archive when cfg has no URI, otherwise a connected
// Mongo archive.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	if cfg.MongoURI == "" {
		log.Info("[EventArchive] MONGO_URI not set, archive disabled")
		return Noop{}, nil
	}
	return Connect(ctx, cfg)
}

// Connect dials MongoDB and prepares the collection indexes.
func Connect(ctx context.Context, cfg config.ArchiveConfig) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		now:        time.Now,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Infof("[EventArchive] Archiving ledger events to %s.%s", cfg.Database, cfg.Collection)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eventKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_event_key"),
		},
		{
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "blockNumber", Value: -1}},
			Options: options.Index().SetName("ix_user_block"),
		},
	})
	if err != nil {
		return fmt.Errorf("create archive indexes: %w", err)
	}
	return nil
}

// Append inserts the event unless its key is already archived.
func (m *Mongo) Append(ctx context.Context, ev ledger.Event) error {
	rec := NewRecord(ev, m.now())
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"eventKey": rec.EventKey},
		bson.M{"$setOnInsert": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("archive event %s: %w", rec.EventKey, err)
	}
	return nil
}

// Recent returns the newest archived events, highest block first.
func (m *Mongo) Recent(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "blockNumber", Value: -1}, {Key: "logIndex", Value: -1}}).
		SetLimit(limit)
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list archived events: %w", err)
	}
	var records []Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode archived events: %w", err)
	}
	return records, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
