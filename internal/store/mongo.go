package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/fincomply/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collUsers    = "users"
	collProfiles = "profiles"
	collThreads  = "threads"
	collMessages = "messages"
	collDoubts   = "communitydoubts"
)

// MongoStore implements Repository on MongoDB. The client is created on first use
// and shared by every request afterwards.
type MongoStore struct {
	uri      string
	database string

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

var _ Repository = (*MongoStore)(nil)

// NewMongo returns a MongoDB-backed repository. No connection is made until EnsureConnected.
func NewMongo(uri, database string) *MongoStore {
	return &MongoStore{uri: uri, database: database}
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password"`
	Name         string             `bson:"name"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type profileDoc struct {
	UserID         primitive.ObjectID `bson:"userId"`
	CompanyStatus  string             `bson:"companyStatus"`
	IndustrySector string             `bson:"industrySector"`
	CompanySize    string             `bson:"companySize"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

type messageDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	ThreadID   primitive.ObjectID `bson:"threadId"`
	UserID     primitive.ObjectID `bson:"userId"`
	SenderType string             `bson:"senderType"`
	Content    string             `bson:"content"`
	Citations  []domain.Citation  `bson:"citations"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

type doubtDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	ThreadID  primitive.ObjectID `bson:"threadId"`
	UserID    primitive.ObjectID `bson:"userId"`
	Question  string             `bson:"question"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// EnsureConnected connects the client and creates indexes once.
func (s *MongoStore) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(s.database)
	if err := ensureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	s.client = client
	s.db = db
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collProfiles: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collThreads: {
			{Keys: bson.D{{Key: "mode", Value: 1}, {Key: "updatedAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "mode", Value: 1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "threadId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		collDoubts: {
			{Keys: bson.D{{Key: "threadId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) collection(ctx context.Context, name string) (*mongo.Collection, error) {
	if err := s.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	return s.db.Collection(name), nil
}

// Ping verifies connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.EnsureConnected(ctx); err != nil {
		return err
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client if it was ever connected.
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	s.client = nil
	s.db = nil
	return nil
}

// ValidID reports whether id is a hex ObjectID.
func (s *MongoStore) ValidID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// CreateUser inserts a user and assigns its ID.
func (s *MongoStore) CreateUser(ctx context.Context, user *domain.User) error {
	coll, err := s.collection(ctx, collUsers)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := userDoc{
		ID:           primitive.NewObjectID(),
		Email:        domain.NormalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		Name:         user.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	user.ID = doc.ID.Hex()
	user.Email = doc.Email
	user.CreatedAt = doc.CreatedAt
	user.UpdatedAt = doc.UpdatedAt
	return nil
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Name:         d.Name,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*domain.User, error) {
	coll, err := s.collection(ctx, collUsers)
	if err != nil {
		return nil, err
	}
	var doc userDoc
	err = coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// GetUser retrieves a user by ID.
func (s *MongoStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

// GetUserByEmail retrieves a user by normalized email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, bson.M{"email": domain.NormalizeEmail(email)})
}

// UpdateUserName sets the display name of a user.
func (s *MongoStore) UpdateUserName(ctx context.Context, userID, name string) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collUsers)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"name": name, "updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("update user name: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProfile retrieves the profile of a user.
func (s *MongoStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}
	coll, err := s.collection(ctx, collProfiles)
	if err != nil {
		return nil, err
	}
	var doc profileDoc
	err = coll.FindOne(ctx, bson.M{"userId": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &domain.Profile{
		UserID:         doc.UserID.Hex(),
		CompanyStatus:  doc.CompanyStatus,
		IndustrySector: doc.IndustrySector,
		CompanySize:    doc.CompanySize,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

// UpsertProfile creates or updates the profile keyed by profile.UserID.
func (s *MongoStore) UpsertProfile(ctx context.Context, profile *domain.Profile) error {
	oid, err := primitive.ObjectIDFromHex(profile.UserID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collProfiles)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"companyStatus":  profile.CompanyStatus,
			"industrySector": profile.IndustrySector,
			"companySize":    profile.CompanySize,
			"updatedAt":      now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"userId": oid}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	profile.UpdatedAt = now
	return nil
}

// threadToBSON lays the canonical fields over any legacy attributes.
func threadToBSON(thread *domain.Thread, oid, owner primitive.ObjectID) bson.M {
	doc := bson.M{}
	for k, v := range thread.Attributes {
		doc[k] = v
	}
	doc["_id"] = oid
	doc["userId"] = owner
	doc["title"] = thread.Title
	doc["mode"] = string(thread.Mode)
	doc["createdAt"] = thread.CreatedAt
	doc["updatedAt"] = thread.UpdatedAt
	return doc
}

var threadCanonicalKeys = map[string]bool{
	"_id": true, "userId": true, "title": true, "mode": true, "createdAt": true, "updatedAt": true,
}

// threadFromBSON splits a raw thread document into canonical fields and Attributes.
func threadFromBSON(doc bson.M) *domain.Thread {
	thread := &domain.Thread{}
	if oid, ok := doc["_id"].(primitive.ObjectID); ok {
		thread.ID = oid.Hex()
	}
	switch owner := doc["userId"].(type) {
	case primitive.ObjectID:
		thread.UserID = owner.Hex()
	case string:
		thread.UserID = owner
	}
	thread.Title, _ = doc["title"].(string)
	if mode, ok := doc["mode"].(string); ok {
		thread.Mode = domain.ThreadMode(mode)
	}
	thread.CreatedAt = bsonTime(doc["createdAt"])
	thread.UpdatedAt = bsonTime(doc["updatedAt"])

	for k, v := range doc {
		if threadCanonicalKeys[k] {
			continue
		}
		if thread.Attributes == nil {
			thread.Attributes = make(map[string]any)
		}
		thread.Attributes[k] = plainValue(v)
	}
	return thread
}

func bsonTime(v any) time.Time {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	}
	return time.Time{}
}

// plainValue converts nested BSON documents into map[string]any so callers
// need not know about driver types.
func plainValue(v any) any {
	switch val := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = plainValue(inner)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = plainValue(inner)
		}
		return out
	default:
		return val
	}
}

// InsertThread inserts a thread and assigns its ID.
func (s *MongoStore) InsertThread(ctx context.Context, thread *domain.Thread) error {
	owner, err := primitive.ObjectIDFromHex(thread.UserID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collThreads)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = thread.CreatedAt
	}
	oid := primitive.NewObjectID()
	if _, err := coll.InsertOne(ctx, threadToBSON(thread, oid, owner)); err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	thread.ID = oid.Hex()
	return nil
}

// FindThread retrieves a thread including legacy attributes.
func (s *MongoStore) FindThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	oid, err := primitive.ObjectIDFromHex(threadID)
	if err != nil {
		return nil, ErrInvalidID
	}
	coll, err := s.collection(ctx, collThreads)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	return threadFromBSON(doc), nil
}

// ListThreads returns threads matching filter, most recently updated first.
func (s *MongoStore) ListThreads(ctx context.Context, filter domain.ThreadFilter) ([]*domain.Thread, error) {
	query := bson.M{}
	if filter.UserID != "" {
		owner, err := primitive.ObjectIDFromHex(filter.UserID)
		if err != nil {
			return []*domain.Thread{}, nil
		}
		query["userId"] = owner
	}
	if filter.Mode != "" {
		query["mode"] = string(filter.Mode)
	}

	coll, err := s.collection(ctx, collThreads)
	if err != nil {
		return nil, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(int64(limitOrDefault(filter.Limit, DefaultThreadLimit)))
	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find threads: %w", err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode threads: %w", err)
	}

	threads := make([]*domain.Thread, 0, len(docs))
	for _, doc := range docs {
		threads = append(threads, threadFromBSON(doc))
	}
	return threads, nil
}

// TouchThread raises the thread's updated_at to at.
func (s *MongoStore) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(threadID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collThreads)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$max": bson.M{"updatedAt": at.UTC()}})
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage inserts a message and assigns its ID.
func (s *MongoStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	threadID, err := primitive.ObjectIDFromHex(msg.ThreadID)
	if err != nil {
		return ErrInvalidID
	}
	userID, err := primitive.ObjectIDFromHex(msg.UserID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collMessages)
	if err != nil {
		return err
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	doc := messageDoc{
		ID:         primitive.NewObjectID(),
		ThreadID:   threadID,
		UserID:     userID,
		SenderType: string(msg.SenderType),
		Content:    msg.Content,
		Citations:  msg.Citations,
		CreatedAt:  msg.CreatedAt,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID = doc.ID.Hex()
	return nil
}

// ListMessages returns the thread's messages in insertion order.
func (s *MongoStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*domain.Message, error) {
	oid, err := primitive.ObjectIDFromHex(threadID)
	if err != nil {
		return []*domain.Message{}, nil
	}
	coll, err := s.collection(ctx, collMessages)
	if err != nil {
		return nil, err
	}

	// ObjectIDs from one process increase monotonically, which breaks ties at
	// millisecond timestamp resolution.
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limitOrDefault(limit, DefaultMessageLimit)))
	cursor, err := coll.Find(ctx, bson.M{"threadId": oid}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]*domain.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toDomain())
	}
	return messages, nil
}

func (d *messageDoc) toDomain() *domain.Message {
	citations := d.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	return &domain.Message{
		ID:         d.ID.Hex(),
		ThreadID:   d.ThreadID.Hex(),
		UserID:     d.UserID.Hex(),
		SenderType: domain.SenderType(d.SenderType),
		Content:    d.Content,
		Citations:  citations,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

// InsertDoubt inserts a community doubt and assigns its ID.
func (s *MongoStore) InsertDoubt(ctx context.Context, doubt *domain.CommunityDoubt) error {
	threadID, err := primitive.ObjectIDFromHex(doubt.ThreadID)
	if err != nil {
		return ErrInvalidID
	}
	userID, err := primitive.ObjectIDFromHex(doubt.UserID)
	if err != nil {
		return ErrInvalidID
	}
	coll, err := s.collection(ctx, collDoubts)
	if err != nil {
		return err
	}

	if doubt.CreatedAt.IsZero() {
		doubt.CreatedAt = time.Now().UTC()
	}
	doc := doubtDoc{
		ID:        primitive.NewObjectID(),
		ThreadID:  threadID,
		UserID:    userID,
		Question:  doubt.Question,
		CreatedAt: doubt.CreatedAt,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert community doubt: %w", err)
	}
	doubt.ID = doc.ID.Hex()
	return nil
}

// ListDoubts returns doubts newest first, optionally restricted to one thread.
func (s *MongoStore) ListDoubts(ctx context.Context, threadID string, limit int) ([]*domain.CommunityDoubt, error) {
	query := bson.M{}
	if threadID != "" {
		oid, err := primitive.ObjectIDFromHex(threadID)
		if err != nil {
			return []*domain.CommunityDoubt{}, nil
		}
		query["threadId"] = oid
	}
	coll, err := s.collection(ctx, collDoubts)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limitOrDefault(limit, DefaultDoubtLimit)))
	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find community doubts: %w", err)
	}
	var docs []doubtDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode community doubts: %w", err)
	}

	doubts := make([]*domain.CommunityDoubt, 0, len(docs))
	for _, d := range docs {
		doubts = append(doubts, &domain.CommunityDoubt{
			ID:        d.ID.Hex(),
			ThreadID:  d.ThreadID.Hex(),
			UserID:    d.UserID.Hex(),
			Question:  d.Question,
			CreatedAt: d.CreatedAt.UTC(),
		})
	}
	return doubts, nil
}
