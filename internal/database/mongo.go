package database

import (
	"context"

	"codin-bootstrap/internal/logger"
	"codin-bootstrap/internal/schema"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoDriver struct {
	client *mongo.Client
}

func (md *MongoDriver) Name() string { return "mongo" }

func (md *MongoDriver) Connect(ctx context.Context, dsn string) error {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(dsn).
		SetMonitor(logger.NewMongoMonitor()),
	)
	if err != nil {
		return errors.Wrap(err, "mongo connect")
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return errors.Wrap(err, "mongo ping")
	}
	md.client = client
	return nil
}

func (md *MongoDriver) Close(ctx context.Context) error {
	if md.client == nil {
		return nil
	}
	return md.client.Disconnect(ctx)
}

// EnsureDatabase is a no-op: a MongoDB database comes into existence with
// its first collection.
func (md *MongoDriver) EnsureDatabase(context.Context, string) error {
	return nil
}

func (md *MongoDriver) CollectionNames(ctx context.Context, database string) ([]string, error) {
	names, err := md.client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrapf(err, "list collections in %s", database)
	}
	return names, nil
}

func (md *MongoDriver) CreateCollection(ctx context.Context, database, collection string) error {
	if err := md.client.Database(database).CreateCollection(ctx, collection); err != nil {
		return errors.Wrapf(err, "create collection %s.%s", database, collection)
	}
	return nil
}

func (md *MongoDriver) Indexes(ctx context.Context, database, collection string) ([]schema.Index, error) {
	specs, err := md.client.Database(database).Collection(collection).Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list indexes on %s.%s", database, collection)
	}

	indexes := make([]schema.Index, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "_id_" {
			continue
		}
		keys, err := keysFromDocument(spec.KeysDocument)
		if err != nil {
			return nil, errors.Wrapf(err, "index %s on %s.%s", spec.Name, database, collection)
		}
		indexes = append(indexes, schema.Index{
			Name:               spec.Name,
			Keys:               keys,
			Unique:             spec.Unique != nil && *spec.Unique,
			ExpireAfterSeconds: spec.ExpireAfterSeconds,
		})
	}
	return indexes, nil
}

func (md *MongoDriver) CreateIndex(ctx context.Context, database, collection string, index schema.Index) error {
	_, err := md.client.Database(database).Collection(collection).Indexes().CreateOne(ctx, indexModel(index))
	if err != nil {
		return errors.Wrapf(err, "create index %s on %s.%s", index.IndexName(), database, collection)
	}
	return nil
}

func indexModel(index schema.Index) mongo.IndexModel {
	keys := bson.D{}
	for _, k := range index.Keys {
		keys = append(keys, bson.E{Key: k.Field, Value: int32(k.Order)})
	}

	opts := options.Index().SetName(index.IndexName())
	if index.Unique {
		opts.SetUnique(true)
	}
	if index.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*index.ExpireAfterSeconds)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}
}

// keysFromDocument converts a listIndexes key document into an ordered key
// pattern. Special index types (text, 2dsphere, hashed) map to order 0 so
// they never match a declared ascending or descending key.
func keysFromDocument(doc bson.Raw) ([]schema.Key, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}

	keys := make([]schema.Key, 0, len(elems))
	for _, e := range elems {
		v := e.Value()
		var order float64
		switch v.Type {
		case bson.TypeInt32:
			order = float64(v.Int32())
		case bson.TypeInt64:
			order = float64(v.Int64())
		case bson.TypeDouble:
			order = v.Double()
		}
		k := schema.Key{Field: e.Key()}
		switch {
		case order > 0:
			k.Order = schema.Ascending
		case order < 0:
			k.Order = schema.Descending
		}
		keys = append(keys, k)
	}
	return keys, nil
}
