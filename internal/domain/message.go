package domain

import (
	"time"
)

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderAI   SenderType = "ai"
)

// Citation is a grounding reference attached to an AI message.
type Citation struct {
	Title  string `json:"title"`
	Source string `json:"source"`
}

// Message is one turn in a thread.
//
// For AI messages UserID is the requester on whose behalf the answer was produced;
// the message itself is system-authored.
type Message struct {
	ID         string     `json:"id"`
	ThreadID   string     `json:"threadId"`
	UserID     string     `json:"userId"`
	SenderType SenderType `json:"senderType"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations"`
	CreatedAt  time.Time  `json:"createdAt"`
}
