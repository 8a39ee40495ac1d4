package codec

import (
	"errors"
	"fmt"

	"github.com/dkeye/Peerchat/internal/domain"
)

const (
	TypeText = "text"
	TypeFile = "file"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the wire record of one conversation entry.
type Frame struct {
	Type      string `cbor:"type"`
	Data      string `cbor:"data"`
	FileBytes []byte `cbor:"fileBytes,omitempty"`
	MimeType  string `cbor:"mimeType,omitempty"`
	Seq       uint64 `cbor:"seq,omitempty"`
}

// FrameFromEntry builds the wire frame for a local entry.
func FrameFromEntry(e domain.MessageEntry) (Frame, error) {
	switch e.Kind {
	case domain.KindText:
		return Frame{Type: TypeText, Data: e.Text, Seq: e.Seq}, nil
	case domain.KindFile:
		return Frame{
			Type:      TypeFile,
			Data:      e.FileName,
			FileBytes: e.Payload,
			MimeType:  e.MimeType,
			Seq:       e.Seq,
		}, nil
	}
	return Frame{}, fmt.Errorf("%w: unknown entry kind %q", ErrMalformedFrame, e.Kind)
}

// EncodeEntry encodes a local entry as frame bytes.
func EncodeEntry(e domain.MessageEntry) ([]byte, error) {
	f, err := FrameFromEntry(e)
	if err != nil {
		return nil, err
	}
	return Encode(f)
}

// Encode validates and encodes f.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return marshal(f)
}

// Decode parses and validates frame bytes.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == TypeFile && f.FileBytes == nil {
		f.FileBytes = []byte{}
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (f Frame) Validate() error {
	switch f.Type {
	case TypeText:
		if f.Data == "" {
			return fmt.Errorf("%w: empty text", ErrMalformedFrame)
		}
		if len(f.FileBytes) > 0 || f.MimeType != "" {
			return fmt.Errorf("%w: text frame carries file fields", ErrMalformedFrame)
		}
	case TypeFile:
		if f.Data == "" {
			return fmt.Errorf("%w: file frame without name", ErrMalformedFrame)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return nil
}

// Entry reconstructs the remote-origin log entry for a received frame.
func (f Frame) Entry(remote domain.PeerID) domain.MessageEntry {
	var e domain.MessageEntry
	if f.Type == TypeFile {
		payload := f.FileBytes
		if payload == nil {
			payload = []byte{}
		}
		e = domain.NewFileEntry(domain.OriginRemote, remote, f.Data, f.MimeType, payload)
	} else {
		e = domain.NewTextEntry(domain.OriginRemote, remote, f.Data)
	}
	e.Seq = f.Seq
	return e
}
