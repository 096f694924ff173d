package mongosrc

import (
	"context"
	"fmt"
	"math"

	"github.com/tarstars/levelwise_trees/golang/levelwise/ltree"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

//RowDTO is the document layout of one training row. A negative categorical code or a null
//continuous value is missing; an absent weight means 1.
type RowDTO struct {
	Cat      []int      `bson:"cat"`
	Con      []*float64 `bson:"con"`
	Response float64    `bson:"response"`
	Weight   *float64   `bson:"weight,omitempty"`
}

//Row converts the document into a row.
func (dto RowDTO) Row() ltree.Row {
	row := ltree.Row{
		Cat:      make([]int, len(dto.Cat)),
		Con:      make([]float64, len(dto.Con)),
		Response: dto.Response,
		Weight:   1,
	}
	for f, value := range dto.Cat {
		if ltree.IsMissingCat(value) {
			value = ltree.MissingCategory
		}
		row.Cat[f] = value
	}
	for f, value := range dto.Con {
		if value == nil {
			row.Con[f] = math.NaN()
		} else {
			row.Con[f] = *value
		}
	}
	if dto.Weight != nil {
		row.Weight = *dto.Weight
	}
	return row
}

//NewRowDTO converts a row into its document layout.
func NewRowDTO(row ltree.Row) RowDTO {
	dto := RowDTO{Cat: append([]int(nil), row.Cat...), Con: make([]*float64, len(row.Con)), Response: row.Response}
	for f, value := range row.Con {
		if !ltree.IsMissingCon(value) {
			value := value
			dto.Con[f] = &value
		}
	}
	if row.Weight != 1 {
		weight := row.Weight
		dto.Weight = &weight
	}
	return dto
}

//Source scans the documents of a collection matching filter, in _id order. A non-zero limit
//restricts the scan to the documents [skip, skip+limit).
type Source struct {
	collection *mongo.Collection
	filter     bson.D
	skip       int64
	limit      int64
}

//New creates a source over the whole filtered collection.
func New(collection *mongo.Collection, filter bson.D) *Source {
	if filter == nil {
		filter = bson.D{}
	}
	return &Source{collection: collection, filter: filter}
}

func (s *Source) findOptions() *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if s.skip > 0 {
		opts.SetSkip(s.skip)
	}
	if s.limit > 0 {
		opts.SetLimit(s.limit)
	}
	return opts
}

//Scan decodes every document of the source into a row.
func (s *Source) Scan(ctx context.Context, fn func(ltree.Row) error) error {
	cursor, err := s.collection.Find(ctx, s.filter, s.findOptions())
	if err != nil {
		return fmt.Errorf("find in %s: %w", s.collection.Name(), err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var dto RowDTO
		if err := cursor.Decode(&dto); err != nil {
			return fmt.Errorf("decode %v: %w", cursor.Current.Lookup("_id"), err)
		}
		if err := fn(dto.Row()); err != nil {
			return err
		}
	}
	return cursor.Err()
}

//ranges splits count documents into at most n contiguous [skip, skip+limit) blocks.
func ranges(count int64, n int) [][2]int64 {
	if n < 1 {
		n = 1
	}
	if int64(n) > count {
		n = int(count)
	}
	blocks := make([][2]int64, 0, n)
	for ind := 0; ind < n; ind++ {
		begin := int64(ind) * count / int64(n)
		end := int64(ind+1) * count / int64(n)
		blocks = append(blocks, [2]int64{begin, end - begin})
	}
	return blocks
}

//Partition counts the matching documents and splits them into at most n sources of
//contiguous _id ranges.
func (s *Source) Partition(ctx context.Context, n int) ([]ltree.RowSource, error) {
	count, err := s.collection.CountDocuments(ctx, s.filter)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", s.collection.Name(), err)
	}
	if count == 0 {
		return nil, fmt.Errorf("collection %s has no matching rows", s.collection.Name())
	}
	var parts []ltree.RowSource
	for _, block := range ranges(count, n) {
		parts = append(parts, &Source{collection: s.collection, filter: s.filter, skip: block[0], limit: block[1]})
	}
	return parts, nil
}

//Connect opens a client and returns the named collection.
func Connect(ctx context.Context, uri, database, collection string) (*mongo.Client, *mongo.Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, client.Database(database).Collection(collection), nil
}

//Insert stores rows into a collection, mostly for tests and data preparation.
func Insert(ctx context.Context, collection *mongo.Collection, rows []ltree.Row) error {
	docs := make([]interface{}, len(rows))
	for ind, row := range rows {
		docs[ind] = NewRowDTO(row)
	}
	_, err := collection.InsertMany(ctx, docs)
	return err
}
