package model

import (
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every deliverable channel, in the order worker pools are started.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// HeadInsert reports whether envelopes of this priority jump the queue.
// Urgent/high work is served before previously queued normal/low work,
// which can starve low-priority envelopes under sustained load; that
// tradeoff is accepted.
func (p Priority) HeadInsert() bool {
	return p == PriorityUrgent || p == PriorityHigh
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusRetry:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Payload is the provider-facing content of a notification. It is opaque
// to the queueing layer and immutable once enqueued.
type Payload struct {
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Envelope is the unit of work flowing through the queue. Only the retry
// path touches it after admission: Attempts is incremented and NextRetryAt
// recomputed before the envelope re-enters its channel queue.
type Envelope struct {
	ID          string    `json:"id"`
	Channel     Channel   `json:"channel"`
	Priority    Priority  `json:"priority"`
	UserID      string    `json:"user_id,omitempty"`
	Payload     Payload   `json:"payload"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// StatusRecord is the registry's view of what happened to a notification.
// Absence of a record for a queried id means expired or unknown, not error.
type StatusRecord struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error,omitempty"`
	ProviderResponse string    `json:"provider_response,omitempty"`
	SentAt           time.Time `json:"sent_at,omitempty"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	LastUpdate       time.Time `json:"last_update"`
}
