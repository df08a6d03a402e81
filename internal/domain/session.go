package domain

import "time"

// Session identifica un contexto conversacional; vive lo que vive el Assistant.
type Session struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}
