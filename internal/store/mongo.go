package store

import (
	"context"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	roomsCollection    = "rooms"
	membersCollection  = "roomMembers"
	messagesCollection = "messages"

	// messageOrderIndex backs the ordered message subscription. If it is
	// missing, ordered queries fail and the feed falls back to client-side
	// sorting.
	messageOrderIndex = "room_created_idx"

	connectTimeout = 10 * time.Second
)

type MongoRepository struct {
	client   *mongo.Client
	users    *mongo.Collection
	rooms    *mongo.Collection
	members  *mongo.Collection
	messages *mongo.Collection
}

func NewMongoRepository(ctx context.Context, uri, database string) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := client.Database(database)
	r := &MongoRepository{
		client:   client,
		users:    db.Collection(usersCollection),
		rooms:    db.Collection(roomsCollection),
		members:  db.Collection(membersCollection),
		messages: db.Collection(messagesCollection),
	}

	// Best effort: ordered subscriptions survive a missing index via the
	// degraded feed path, so bootstrap failures are not fatal.
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName(messageOrderIndex),
	}
	_, _ = r.messages.Indexes().CreateOne(ctx, ix)

	return r, nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	u := User{
		Id:           primitive.NewObjectID().Hex(),
		Name:         params.Name,
		Role:         params.Role,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := r.users.InsertOne(ctx, u); err != nil {
		return User{}, err
	}

	return u, nil
}

func (r *MongoRepository) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	if err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	return u, nil
}

func (r *MongoRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	if err := r.users.FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return User{}, ErrNotFound
		}
		return User{}, err
	}

	return u, nil
}

// CreateRoom inserts a room under a short, URL-friendly id. Room ids are
// client-facing, unlike the other collections' object ids.
func (r *MongoRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	id, err := shortid.Generate()
	if err != nil {
		return Room{}, fmt.Errorf("generate room id: %w", err)
	}

	room := Room{
		Id:        id,
		Name:      params.Name,
		Code:      params.Code,
		CreatedBy: params.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := r.rooms.InsertOne(ctx, room); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (r *MongoRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	var room Room
	if err := r.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&room); err != nil {
		if err == mongo.ErrNoDocuments {
			return Room{}, ErrNotFound
		}
		return Room{}, err
	}

	return room, nil
}

func (r *MongoRepository) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	var room Room
	if err := r.rooms.FindOne(ctx, bson.M{"code": code}).Decode(&room); err != nil {
		if err == mongo.ErrNoDocuments {
			return Room{}, ErrNotFound
		}
		return Room{}, err
	}

	return room, nil
}

func (r *MongoRepository) DeleteRoom(ctx context.Context, id string) error {
	res, err := r.rooms.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *MongoRepository) CreateMembership(ctx context.Context, roomId, userId string) (Membership, error) {
	m := Membership{
		Id:       primitive.NewObjectID().Hex(),
		RoomId:   roomId,
		UserId:   userId,
		JoinedAt: time.Now().UTC(),
	}

	if _, err := r.members.InsertOne(ctx, m); err != nil {
		return Membership{}, err
	}

	return m, nil
}

func (r *MongoRepository) MembershipExists(ctx context.Context, roomId, userId string) (bool, error) {
	count, err := r.members.CountDocuments(ctx, bson.M{"roomId": roomId, "userId": userId})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *MongoRepository) ListMembershipsByUser(ctx context.Context, userId string) ([]Membership, error) {
	cur, err := r.members.Find(ctx, bson.M{"userId": userId})
	if err != nil {
		return nil, err
	}

	var memberships []Membership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}

	return memberships, nil
}

func (r *MongoRepository) listMembershipsByRoom(ctx context.Context, roomId string) ([]Membership, error) {
	cur, err := r.members.Find(ctx, bson.M{"roomId": roomId})
	if err != nil {
		return nil, err
	}

	var memberships []Membership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}

	return memberships, nil
}

// DeleteMembershipsByRoom removes all memberships for a room in one batch.
func (r *MongoRepository) DeleteMembershipsByRoom(ctx context.Context, roomId string) error {
	_, err := r.members.DeleteMany(ctx, bson.M{"roomId": roomId})
	return err
}

func (r *MongoRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	msg := Message{
		Id:         primitive.NewObjectID().Hex(),
		RoomId:     params.RoomId,
		UserId:     params.UserId,
		SenderName: params.SenderName,
		SenderRole: params.SenderRole,
		Text:       params.Text,
		FileURL:    params.FileURL,
		FileType:   params.FileType,
		FileName:   params.FileName,
		FileSize:   params.FileSize,
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := r.messages.InsertOne(ctx, msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// ListMessages returns a room's messages. When ordered, the query sorts
// server-side and is pinned to the order index so that a missing index
// surfaces as an error rather than an unindexed scan.
func (r *MongoRepository) ListMessages(ctx context.Context, roomId string, ordered bool) ([]Message, error) {
	opts := options.Find()
	if ordered {
		opts = opts.SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetHint(messageOrderIndex)
	}

	cur, err := r.messages.Find(ctx, bson.M{"roomId": roomId}, opts)
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *MongoRepository) DeleteMessagesByRoom(ctx context.Context, roomId string) error {
	_, err := r.messages.DeleteMany(ctx, bson.M{"roomId": roomId})
	return err
}

func (r *MongoRepository) WatchMembershipsByUser(ctx context.Context, userId string) (*MembershipSub, error) {
	sub := NewMembershipSub()
	query := func(ctx context.Context) ([]Membership, error) {
		return r.ListMembershipsByUser(ctx, userId)
	}

	if err := r.watchMemberships(ctx, sub, query); err != nil {
		return nil, err
	}

	return sub, nil
}

func (r *MongoRepository) WatchMembershipsByRoom(ctx context.Context, roomId string) (*MembershipSub, error) {
	sub := NewMembershipSub()
	query := func(ctx context.Context) ([]Membership, error) {
		return r.listMembershipsByRoom(ctx, roomId)
	}

	if err := r.watchMemberships(ctx, sub, query); err != nil {
		return nil, err
	}

	return sub, nil
}

func (r *MongoRepository) watchMemberships(ctx context.Context, sub *MembershipSub, query func(context.Context) ([]Membership, error)) error {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := r.members.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return err
	}

	// Initial whole-result-set snapshot before any change events.
	snap, err := query(ctx)
	if err != nil {
		stream.Close(ctx)
		cancel()
		return err
	}
	sendMemberships(sub, snap)

	go func() {
		<-sub.Done()
		cancel()
	}()

	go func() {
		defer stream.Close(context.Background())
		defer cancel()

		for stream.Next(ctx) {
			snap, err := query(ctx)
			if err != nil {
				sendErr(sub.Errs, err)
				continue
			}
			sendMemberships(sub, snap)
		}
	}()

	return nil
}

// WatchMessages subscribes to a room's message stream. The ordered variant
// can fail on the first query when the order index is unavailable; the
// caller is expected to re-subscribe unordered.
func (r *MongoRepository) WatchMessages(ctx context.Context, roomId string, ordered bool) (*MessageSub, error) {
	sub := NewMessageSub()
	ctx, cancel := context.WithCancel(ctx)

	stream, err := r.messages.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, err
	}

	snap, err := r.ListMessages(ctx, roomId, ordered)
	if err != nil {
		stream.Close(ctx)
		cancel()
		return nil, err
	}
	sendMessages(sub, snap)

	go func() {
		<-sub.Done()
		cancel()
	}()

	go func() {
		defer stream.Close(context.Background())
		defer cancel()

		for stream.Next(ctx) {
			snap, err := r.ListMessages(ctx, roomId, ordered)
			if err != nil {
				sendErr(sub.Errs, err)
				continue
			}
			sendMessages(sub, snap)
		}
	}()

	return sub, nil
}

// sendMemberships delivers a snapshot with latest-wins semantics: an
// unconsumed older snapshot is dropped in favor of the new one.
func sendMemberships(sub *MembershipSub, snap []Membership) {
	for {
		select {
		case sub.C <- snap:
			return
		case <-sub.Done():
			return
		default:
			select {
			case <-sub.C:
			default:
			}
		}
	}
}

func sendMessages(sub *MessageSub, snap []Message) {
	for {
		select {
		case sub.C <- snap:
			return
		case <-sub.Done():
			return
		default:
			select {
			case <-sub.C:
			default:
			}
		}
	}
}

func sendErr(errs chan error, err error) {
	select {
	case errs <- err:
	default:
	}
}
