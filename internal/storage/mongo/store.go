// Package mongo backs the storage interfaces with MongoDB. Collection names
// and document shapes follow the account/conversation data model.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/SabbirMurad/fanari-backend/internal/domain"
	"github.com/SabbirMurad/fanari-backend/internal/storage"
)

const (
	colAccountStatus      = "account_status"
	colMessageCore        = "message_core"
	colMessageContent     = "message_content"
	colSingleConversation = "single_conversation"
	colGroupConversation  = "group_conversation"
)

type Store struct {
	cli *mongo.Client
	db  *mongo.Database
}

func New(ctx context.Context, uri, dbName string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{cli: cli, db: cli.Database(dbName)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.cli.Disconnect(ctx)
}

func (s *Store) RoomsForUser(ctx context.Context, userID string) ([]string, error) {
	rooms := make([]string, 0)

	cursor, err := s.db.Collection(colSingleConversation).Find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"user_1": userID},
			bson.M{"user_2": userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find single conversations: %w", err)
	}
	rooms, err = appendUUIDs(ctx, cursor, rooms)
	if err != nil {
		return nil, err
	}

	cursor, err = s.db.Collection(colGroupConversation).Find(ctx, bson.M{
		"members": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("find group conversations: %w", err)
	}
	return appendUUIDs(ctx, cursor, rooms)
}

func appendUUIDs(ctx context.Context, cursor *mongo.Cursor, rooms []string) ([]string, error) {
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc struct {
			UUID string `bson:"uuid"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		rooms = append(rooms, doc.UUID)
	}
	return rooms, cursor.Err()
}

type messageCore struct {
	UUID           string          `bson:"uuid"`
	ConversationID string          `bson:"conversation_id"`
	Owner          string          `bson:"owner"`
	Type           domain.TextType `bson:"type"`
	ReplyTo        *string         `bson:"reply_to"`
	SeenBy         []string        `bson:"seen_by"`
	CreatedAt      int64           `bson:"created_at"`
}

type messageContent struct {
	MessageID  string           `bson:"message_id"`
	Text       *string          `bson:"text"`
	Audio      *string          `bson:"audio"`
	Video      *string          `bson:"video"`
	Images     []string         `bson:"images"`
	Attachment *string          `bson:"attachment"`
	Emoji      *string          `bson:"emoji"`
	Mentions   []domain.Mention `bson:"mentions"`
}

// SaveMessage writes the core and content halves inside one transaction so a
// message never exists half-persisted.
func (s *Store) SaveMessage(ctx context.Context, msg *domain.Message) error {
	core := messageCore{
		UUID:           msg.UUID,
		ConversationID: msg.ConversationID,
		Owner:          msg.Owner,
		Type:           msg.Type,
		ReplyTo:        msg.ReplyTo,
		SeenBy:         msg.SeenBy,
		CreatedAt:      msg.CreatedAt,
	}
	content := messageContent{
		MessageID:  msg.UUID,
		Text:       msg.Text,
		Audio:      mediaID(msg.Audio),
		Video:      videoID(msg.Video),
		Images:     msg.Images,
		Attachment: attachmentID(msg.Attachment),
		Emoji:      msg.Emoji,
		Mentions:   msg.Mentions,
	}

	session, err := s.cli.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if _, err := s.db.Collection(colMessageCore).InsertOne(sc, core); err != nil {
			return nil, fmt.Errorf("insert message core: %w", err)
		}
		if _, err := s.db.Collection(colMessageContent).InsertOne(sc, content); err != nil {
			return nil, fmt.Errorf("insert message content: %w", err)
		}
		return nil, nil
	})
	return err
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	set := bson.M{"online": online}
	if !lastSeen.IsZero() {
		set["last_seen"] = lastSeen.UnixMilli()
	}
	_, err := s.db.Collection(colAccountStatus).UpdateOne(ctx,
		bson.M{"uuid": userID},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return nil
}

func (s *Store) GetPresence(ctx context.Context, userID string) (domain.Presence, error) {
	var doc struct {
		UUID     string `bson:"uuid"`
		Online   bool   `bson:"online"`
		LastSeen int64  `bson:"last_seen"`
	}
	err := s.db.Collection(colAccountStatus).FindOne(ctx, bson.M{"uuid": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.Presence{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Presence{}, fmt.Errorf("find account status: %w", err)
	}
	return domain.Presence{UserID: doc.UUID, Online: doc.Online, LastSeen: doc.LastSeen}, nil
}

func mediaID(a *domain.Audio) *string {
	if a == nil {
		return nil
	}
	return &a.UUID
}

func videoID(v *domain.Video) *string {
	if v == nil {
		return nil
	}
	return &v.UUID
}

func attachmentID(a *domain.Attachment) *string {
	if a == nil {
		return nil
	}
	return &a.UUID
}
