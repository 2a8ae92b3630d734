package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ashendes/payment-relay/internal/models"
)

// DefaultMongoDatabase is used when no database name is configured
const DefaultMongoDatabase = "payment_relay"

type transactionDocument struct {
	Reference    string               `bson:"reference"`
	Amount       primitive.Decimal128 `bson:"amount"`
	Email        string               `bson:"email"`
	FirstName    string               `bson:"firstName,omitempty"`
	LastName     string               `bson:"lastName,omitempty"`
	Phone        string               `bson:"phone,omitempty"`
	DonationType string               `bson:"donationType,omitempty"`
	Metadata     bson.M               `bson:"metadata,omitempty"`
	Status       string               `bson:"status"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
	VerifiedAt   *time.Time           `bson:"verifiedAt,omitempty"`
}

func documentFromModel(tx *models.Transaction) (*transactionDocument, error) {
	amount, err := primitive.ParseDecimal128(tx.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("amount %s: %w", tx.Amount, err)
	}
	var meta bson.M
	if tx.Metadata != nil {
		meta = bson.M(tx.Metadata.Clone())
	}
	return &transactionDocument{
		Reference:    tx.Reference,
		Amount:       amount,
		Email:        tx.Email,
		FirstName:    tx.FirstName,
		LastName:     tx.LastName,
		Phone:        tx.Phone,
		DonationType: tx.DonationType,
		Metadata:     meta,
		Status:       string(tx.Status),
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
		VerifiedAt:   tx.VerifiedAt,
	}, nil
}

func (d *transactionDocument) toModel() *models.Transaction {
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		amount = decimal.Zero
	}
	var meta models.Metadata
	if d.Metadata != nil {
		meta = models.Metadata(d.Metadata)
	}
	return &models.Transaction{
		Reference:    d.Reference,
		Amount:       amount,
		Email:        d.Email,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Phone:        d.Phone,
		DonationType: d.DonationType,
		Metadata:     meta,
		Status:       models.Status(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		VerifiedAt:   d.VerifiedAt,
	}
}

// MongoStore persists transactions in a MongoDB collection with a unique
// index on reference
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// OpenMongoStore connects, pings, and ensures the reference index exists
func OpenMongoStore(ctx context.Context, opts Options) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.DSN))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := opts.Database
	if database == "" {
		database = DefaultMongoDatabase
	}
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(table),
		now:        time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reference", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("reference_unique"),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Create inserts a new transaction
func (s *MongoStore) Create(ctx context.Context, tx *models.Transaction) error {
	now := s.now().UTC()
	doc, err := documentFromModel(tx)
	if err != nil {
		return storageFault("create", tx.Reference, err)
	}
	doc.Status = string(models.StatusInitiated)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicate(tx.Reference)
		}
		return storageFault("create", tx.Reference, err)
	}

	tx.Status = models.StatusInitiated
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

// Update merges patch into the stored document and returns the result
func (s *MongoStore) Update(ctx context.Context, reference string, patch models.Patch) (*models.Transaction, error) {
	var doc transactionDocument
	err := s.collection.FindOneAndUpdate(
		ctx,
		bson.M{"reference": reference},
		bson.M{"$set": setDocument(patch, s.now().UTC())},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(reference)
	}
	if err != nil {
		return nil, storageFault("update", reference, err)
	}
	return doc.toModel(), nil
}

// Get returns the stored document
func (s *MongoStore) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	var doc transactionDocument
	err := s.collection.FindOne(ctx, bson.M{"reference": reference}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(reference)
	}
	if err != nil {
		return nil, storageFault("get", reference, err)
	}
	return doc.toModel(), nil
}

// Transition updates only while status still equals from
func (s *MongoStore) Transition(ctx context.Context, reference string, from models.Status, patch models.Patch) (bool, error) {
	res, err := s.collection.UpdateOne(
		ctx,
		bson.M{"reference": reference, "status": string(from)},
		bson.M{"$set": setDocument(patch, s.now().UTC())},
	)
	if err != nil {
		return false, storageFault("transition", reference, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	count, err := s.collection.CountDocuments(ctx, bson.M{"reference": reference})
	if err != nil {
		return false, storageFault("transition", reference, err)
	}
	if count == 0 {
		return false, notFound(reference)
	}
	return false, nil
}

// setDocument renders a patch as the body of a $set
func setDocument(patch models.Patch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.VerifiedAt != nil {
		set["verifiedAt"] = patch.VerifiedAt.UTC()
	}
	if patch.Metadata != nil {
		set["metadata"] = bson.M(patch.Metadata.Clone())
	}
	return set
}
