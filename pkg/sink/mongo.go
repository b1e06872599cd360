package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/airtable-client/pkg/table"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// metaField holds run metadata inside each exported document.
const metaField = "_airtable"

// MongoSink upserts one document per row with the record id as _id.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mode       Mode
}

// NewMongoSink connects to uri and targets database.collection.
func NewMongoSink(uri, database, collection string, mode Mode) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		mode:       mode,
	}, nil
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Write(ctx context.Context, tbl *table.Table, meta Meta) (int, error) {
	if s.mode == ModeReplace {
		if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
			return 0, fmt.Errorf("clear collection: %w", err)
		}
	}
	if tbl.Len() == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, tbl.Len())
	for _, row := range tbl.Rows {
		doc := rowDocument(tbl, row, meta)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: row[table.IDColumn]}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk write: %w", err)
	}
	return int(res.UpsertedCount + res.MatchedCount), nil
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// rowDocument builds an ordered document: _id, the data fields, then run
// metadata.
func rowDocument(tbl *table.Table, row table.Row, meta Meta) bson.D {
	doc := make(bson.D, 0, len(tbl.FieldNames)+1)
	doc = append(doc, bson.E{Key: "_id", Value: row[table.IDColumn]})
	for _, name := range tbl.FieldNames[1:] {
		doc = append(doc, bson.E{Key: name, Value: row[name]})
	}
	doc = append(doc, bson.E{Key: metaField, Value: bson.D{
		{Key: "run_id", Value: meta.RunID},
		{Key: "app_id", Value: meta.AppID},
		{Key: "table", Value: meta.Table},
		{Key: "fetched_at", Value: meta.FetchedAt},
	}})
	return doc
}
