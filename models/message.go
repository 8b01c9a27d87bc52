package models

import "time"

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Identity is the name and avatar a relayed message is sent under.
type Identity struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type StickerFormat int

const (
	StickerFormatUnknown StickerFormat = iota
	StickerFormatPNG
	StickerFormatAPNG
	StickerFormatLottie
	StickerFormatGIF
)

type Sticker struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Format StickerFormat `json:"format"`
	URL    string        `json:"url"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// File is an outbound binary carried along with a relayed message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	ID          string       `json:"id"`
	EndpointID  string       `json:"endpoint_id"`
	OriginID    string       `json:"origin_id"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Stickers    []Sticker    `json:"stickers,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type MessageEdit struct {
	EndpointID string `json:"endpoint_id"`
	MessageID  string `json:"message_id"`
	Content    string `json:"content"`
}

type Reaction struct {
	EndpointID string `json:"endpoint_id"`
	MessageID  string `json:"message_id"`
	User       User   `json:"user"`
	Emoji      string `json:"emoji"`
}
