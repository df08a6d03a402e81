package domain

import "time"

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type MessageStatus string

const (
	MessageRevealing MessageStatus = "revealing"
	MessageSettled   MessageStatus = "settled"
	MessageFailed    MessageStatus = "failed"
)

// Message es una entrada del transcript de la conversacion.
type Message struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Sender     Sender        `json:"sender"`
	Text       string        `json:"text"`
	Answer     *Answer       `json:"answer,omitempty"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	Reactions  []Reaction    `json:"reactions"`
	Status     MessageStatus `json:"status"`
	TurnSeq    uint64        `json:"turn_seq,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Attachment describe un documento subido por el usuario.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}
