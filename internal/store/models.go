package store

import "time"

type User struct {
	Id           string    `bson:"_id,omitempty"`
	Name         string    `bson:"name"`
	Role         string    `bson:"role"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"passwordHash"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type Room struct {
	Id        string    `bson:"_id,omitempty"`
	Name      string    `bson:"name"`
	Code      string    `bson:"code"`
	CreatedBy string    `bson:"createdBy"`
	CreatedAt time.Time `bson:"createdAt"`
}

type Membership struct {
	Id       string    `bson:"_id,omitempty"`
	RoomId   string    `bson:"roomId"`
	UserId   string    `bson:"userId"`
	JoinedAt time.Time `bson:"joinedAt"`
}

type Message struct {
	Id         string    `bson:"_id,omitempty"`
	RoomId     string    `bson:"roomId,omitempty"`
	UserId     string    `bson:"uid"`
	SenderName string    `bson:"senderName"`
	SenderRole string    `bson:"senderRole"`
	Text       string    `bson:"text,omitempty"`
	FileURL    string    `bson:"file,omitempty"`
	FileType   string    `bson:"fileType,omitempty"`
	FileName   string    `bson:"fileName,omitempty"`
	FileSize   int64     `bson:"fileSize,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
}

type CreateUserParams struct {
	Name         string
	Role         string
	Email        string
	PasswordHash string
}

type CreateRoomParams struct {
	Name      string
	Code      string
	CreatedBy string
}

type CreateMessageParams struct {
	RoomId     string
	UserId     string
	SenderName string
	SenderRole string
	Text       string
	FileURL    string
	FileType   string
	FileName   string
	FileSize   int64
}
