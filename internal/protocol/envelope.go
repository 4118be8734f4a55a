// Package protocol defines the Agent Messaging Protocol (AMP) wire types:
// the envelope that carries routing and signature metadata, the payload
// body it wraps, and the address format agents are reached at.
package protocol

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Version is the only AMP wire version this core speaks.
const Version = "amp/0.1"

// Priority is the envelope delivery priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PayloadType identifies the shape of a Payload's intent.
type PayloadType string

const (
	PayloadRequest      PayloadType = "request"
	PayloadResponse     PayloadType = "response"
	PayloadNotification PayloadType = "notification"
	PayloadUpdate       PayloadType = "update"
	PayloadAck          PayloadType = "ack"
)

// Payload is the body of an AMP message.
type Payload struct {
	Type        PayloadType    `json:"type"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// Attachment is an opaque named blob carried alongside a Payload.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data"`
}

// Envelope is the header of an AMP message: routing, timing and signature
// metadata. The body lives in the paired Payload.
type Envelope struct {
	Version   string     `json:"version"`
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Subject   string     `json:"subject"`
	Priority  Priority   `json:"priority"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Signature string     `json:"signature"`
	InReplyTo string     `json:"in_reply_to,omitempty"`
	ThreadID  string     `json:"thread_id"`
}

// NewEnvelopeID returns a fresh envelope id of the form
// "msg_{unix_ms}_{rand7}".
func NewEnvelopeID(now time.Time) (string, error) {
	suffix, err := randomAlnum(7)
	if err != nil {
		return "", fmt.Errorf("generating envelope id: %w", err)
	}
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), suffix), nil
}

// ThreadID returns in_reply_to if set, else id itself, per the
// "thread_id = in_reply_to || id" rule.
func ThreadID(id, inReplyTo string) string {
	if inReplyTo != "" {
		return inReplyTo
	}
	return id
}

const randomAlnumAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomAlnum(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = randomAlnumAlphabet[int(b)%len(randomAlnumAlphabet)]
	}
	return string(out), nil
}
