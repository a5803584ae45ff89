package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is the wire payload carried by out-of-process backends.
// It holds the job id and the enqueue timestamp, nothing more: job state
// lives in the store.
type Envelope struct {
	JobID      string    `json:"job_id" msgpack:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
}

// Codec serializes envelopes for a wire backend.
type Codec interface {
	Encode(e Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// JSONCodec encodes envelopes as JSON. It is the default for backends
// where payloads should stay human-readable (SQS console, DLQ triage).
type JSONCodec struct{}

func (JSONCodec) Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// MsgpackCodec encodes envelopes as MessagePack for compact payloads.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(e Envelope) ([]byte, error) {
	return msgpack.Marshal(e)
}

func (MsgpackCodec) Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}
