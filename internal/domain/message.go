// Package domain contains entity without logic, just meta-data
package domain

// TextType discriminates what a chat message carries.
type TextType string

const (
	TextTypeText       TextType = "Text"
	TextTypeEmoji      TextType = "Emoji"
	TextTypeImage      TextType = "Image"
	TextTypeAudio      TextType = "Audio"
	TextTypeVideo      TextType = "Video"
	TextTypeAttachment TextType = "Attachment"
)

type Mention struct {
	UserID string `json:"user_id" bson:"user_id"`
	Start  int    `json:"start" bson:"start"`
	End    int    `json:"end" bson:"end"`
}

type Audio struct {
	UUID   string `json:"uuid" bson:"uuid"`
	Length int64  `json:"length" bson:"length"`
}

type Video struct {
	UUID          string `json:"uuid" bson:"uuid"`
	Height        int    `json:"height" bson:"height"`
	Width         int    `json:"width" bson:"width"`
	ThumbnailType string `json:"thumbnail_type" bson:"thumbnail_type"`
}

type Attachment struct {
	UUID      string `json:"uuid" bson:"uuid"`
	Size      int64  `json:"size" bson:"size"`
	Name      string `json:"name" bson:"name"`
	Extension string `json:"extension" bson:"extension"`
}

// Message is one fully constructed chat message as it goes out on the wire
// and into storage. The server owns UUID and CreatedAt.
type Message struct {
	UUID           string      `json:"uuid"`
	Owner          string      `json:"owner"`
	ConversationID string      `json:"conversation_id"`
	Text           *string     `json:"text"`
	Mentions       []Mention   `json:"mentions"`
	Images         []string    `json:"images"`
	Audio          *Audio      `json:"audio"`
	Video          *Video      `json:"video"`
	Attachment     *Attachment `json:"attachment"`
	Emoji          *string     `json:"emoji"`
	Type           TextType    `json:"type"`
	ReplyTo        *string     `json:"reply_to"`
	SeenBy         []string    `json:"seen_by"`
	CreatedAt      int64       `json:"created_at"`
}
