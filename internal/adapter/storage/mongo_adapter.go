package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/port"
)

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

// MongoStore maps each collection to a MongoDB collection keyed by a string
// _id. Transactions need a replica set; change streams drive Subscribe.
type MongoStore struct {
	db     *mongo.Database
	logger *zap.Logger
	clock  monotonicClock
}

func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{db: db, logger: logger}
}

func (m *MongoStore) Get(ctx context.Context, collection, id string) (port.Document, error) {
	return findDocument(ctx, m.db.Collection(collection), id)
}

func (m *MongoStore) QueryOrdered(ctx context.Context, collection, orderBy string, dir port.Direction) ([]port.Document, error) {
	if err := validateField(orderBy); err != nil {
		return nil, err
	}

	order := 1
	if dir == port.Descending {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: orderBy, Value: order}, {Key: "_id", Value: order}})

	cursor, err := m.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []port.Document
	for cursor.Next(ctx) {
		var raw bson.D
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		doc, err := toDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	// Timestamps and prices are stored as strings.
	sortDocuments(docs, orderBy, dir)
	return docs, nil
}

func (m *MongoStore) Add(ctx context.Context, collection string, data []byte) (string, error) {
	id := uuid.NewString()
	doc, err := fromDocument(id, data)
	if err != nil {
		return "", err
	}

	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (m *MongoStore) ServerTimestamp() time.Time {
	return m.clock.Now()
}

func (m *MongoStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Txn) error) error {
	sess, err := m.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(opts); err != nil {
			return fmt.Errorf("start transaction: %w", err)
		}

		if err := fn(sc, &mongoTxn{db: m.db, sess: sess}); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return err
		}

		if err := commitWithRetry(sc, sess.CommitTransaction); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	return mapMongoError(err)
}

const maxCommitAttempts = 3

// commitWithRetry repeats only the commit while its outcome is unknown.
// Re-running the transaction body at that point could apply it twice.
func commitWithRetry(ctx context.Context, commit func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = commit(ctx)
		if err == nil || !hasErrorLabel(err, labelUnknownCommitResult) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("commit outcome unknown after %d attempts: %s", maxCommitAttempts, err.Error())
}

func hasErrorLabel(err error, label string) bool {
	var serverErr mongo.ServerError
	return errors.As(err, &serverErr) && serverErr.HasErrorLabel(label)
}

// Subscribe re-queries the collection after every change stream event.
func (m *MongoStore) Subscribe(ctx context.Context, collection, orderBy string, dir port.Direction, onChange func(port.Snapshot)) (func(), error) {
	if err := validateField(orderBy); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := m.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch collection: %w", err)
	}

	go func() {
		defer stream.Close(context.Background())

		query := func() {
			docs, err := m.QueryOrdered(ctx, collection, orderBy, dir)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("snapshot_query_failed",
						zap.String("collection", collection),
						zap.Error(err),
					)
				}
				return
			}
			onChange(port.Snapshot{Collection: collection, Documents: docs})
		}

		query()
		for stream.Next(ctx) {
			query()
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			m.logger.Error("change_stream_closed",
				zap.String("collection", collection),
				zap.Error(err),
			)
		}
	}()

	return cancel, nil
}

type mongoTxn struct {
	db   *mongo.Database
	sess mongo.Session
}

func (t *mongoTxn) bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *mongoTxn) Get(ctx context.Context, collection, id string) (port.Document, error) {
	return findDocument(t.bind(ctx), t.db.Collection(collection), id)
}

func (t *mongoTxn) Set(ctx context.Context, collection, id string, data []byte) error {
	doc, err := fromDocument(id, data)
	if err != nil {
		return err
	}

	_, err = t.db.Collection(collection).ReplaceOne(t.bind(ctx),
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func (t *mongoTxn) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	for k := range patch {
		if err := validateField(k); err != nil {
			return err
		}
	}

	// Round-trip through JSON so values are stored the same way Set stores them.
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	var set bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &set); err != nil {
		return fmt.Errorf("convert patch: %w", err)
	}

	result, err := t.db.Collection(collection).UpdateOne(t.bind(ctx),
		bson.M{"_id": id}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if result.MatchedCount == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (t *mongoTxn) Delete(ctx context.Context, collection, id string) error {
	if _, err := t.db.Collection(collection).DeleteOne(t.bind(ctx), bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func findDocument(ctx context.Context, coll *mongo.Collection, id string) (port.Document, error) {
	var raw bson.D
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return port.Document{}, port.ErrNotFound
	}
	if err != nil {
		return port.Document{}, fmt.Errorf("find document: %w", err)
	}
	return toDocument(raw)
}

func fromDocument(id string, data []byte) (bson.D, error) {
	var fields bson.D
	if err := bson.UnmarshalExtJSON(data, false, &fields); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	return append(bson.D{{Key: "_id", Value: id}}, fields...), nil
}

func toDocument(raw bson.D) (port.Document, error) {
	var doc port.Document
	fields := make(bson.D, 0, len(raw))
	for _, e := range raw {
		if e.Key == "_id" {
			doc.ID, _ = e.Value.(string)
			continue
		}
		fields = append(fields, e)
	}

	data, err := bson.MarshalExtJSON(fields, false, false)
	if err != nil {
		return port.Document{}, fmt.Errorf("convert document: %w", err)
	}
	doc.Data = data
	return doc, nil
}

func mapMongoError(err error) error {
	if err == nil {
		return nil
	}
	if hasErrorLabel(err, labelTransientTransaction) {
		return fmt.Errorf("%w: %v", port.ErrConflict, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", port.ErrConflict, err)
	}
	return err
}
