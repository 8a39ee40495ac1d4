package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/base64x"
)

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Status tracks the transmission of an entry. Local entries start pending
// and settle to sent or failed; remote entries are received.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusReceived Status = "received"
)

var ErrEntryShape = errors.New("entry must carry either text or a named file payload")

// MessageEntry is one item of the conversation log. Everything but Status
// is fixed once the entry is appended.
type MessageEntry struct {
	Origin         Origin    `json:"origin"`
	Kind           Kind      `json:"kind"`
	RemoteID       PeerID    `json:"remote_id"`
	Seq            uint64    `json:"seq"`
	Text           string    `json:"text,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	MimeType       string    `json:"mime_type,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	PreviewDataURI string    `json:"preview_data_uri,omitempty"`
	Status         Status    `json:"status"`
	At             time.Time `json:"at"`
}

// NewTextEntry builds a text entry.
func NewTextEntry(origin Origin, remote PeerID, text string) MessageEntry {
	return MessageEntry{
		Origin:   origin,
		Kind:     KindText,
		RemoteID: remote,
		Text:     text,
		Status:   initialStatus(origin),
		At:       time.Now().UTC(),
	}
}

// NewFileEntry builds a file entry. Image payloads get an inline preview.
func NewFileEntry(origin Origin, remote PeerID, name, mimeType string, payload []byte) MessageEntry {
	e := MessageEntry{
		Origin:   origin,
		Kind:     KindFile,
		RemoteID: remote,
		FileName: name,
		MimeType: mimeType,
		Payload:  payload,
		Status:   initialStatus(origin),
		At:       time.Now().UTC(),
	}
	if IsImage(mimeType) {
		e.PreviewDataURI = PreviewDataURI(mimeType, payload)
	}
	return e
}

func initialStatus(origin Origin) Status {
	if origin == OriginRemote {
		return StatusReceived
	}
	return StatusPending
}

// Validate enforces that exactly one of text or file content is present.
func (e MessageEntry) Validate() error {
	switch e.Kind {
	case KindText:
		if e.Text == "" || e.FileName != "" || e.Payload != nil {
			return ErrEntryShape
		}
	case KindFile:
		if e.FileName == "" || e.Payload == nil || e.Text != "" {
			return ErrEntryShape
		}
		if e.PreviewDataURI != "" && !IsImage(e.MimeType) {
			return ErrEntryShape
		}
	default:
		return ErrEntryShape
	}
	return nil
}

// IsImage reports whether a MIME type renders as an inline image.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// PreviewDataURI encodes a payload as a self-contained data URI.
func PreviewDataURI(mimeType string, payload []byte) string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64x.StdEncoding.EncodedLen(len(payload)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64x.StdEncoding.EncodeToString(payload))
	return b.String()
}
