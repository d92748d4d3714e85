// Copyright (c) 2017, A. Stoewer <adrian.stoewer@rz.ifi.lmu.de>
// All rights reserved.

// Package event contains the wire types pushed by the run daemon on its event and output streams.
package event

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// An Event is a structured element of a run's event stream. The ID is unique within the lifetime of a run,
// the Timestamp (milliseconds since epoch) is assigned by the daemon and is only meaningful as a resume
// cursor: two events may share a timestamp.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	StepID    string                 `json:"step_id,omitempty"`
	EventType string                 `json:"event_type"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// An OutputChunk is a piece of raw step output starting at the byte position Offset.
type OutputChunk struct {
	StepID  string `json:"step_id"`
	Offset  int64  `json:"offset"`
	Content string `json:"content"`
}

// End returns the byte position directly after the chunk's content.
func (c *OutputChunk) End() int64 {
	return c.Offset + int64(len(c.Content))
}

// ParseEvent decodes a single event from the data field of a stream message.
func ParseEvent(data []byte) (*Event, error) {
	e := &Event{}
	err := json.Unmarshal(data, e)
	if err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal event")
	}
	if e.ID == "" {
		return nil, errors.New("unable to unmarshal event: missing id")
	}
	return e, nil
}

// ParseOutputChunk decodes a single chunk from the data field of a stream message.
func ParseOutputChunk(data []byte) (*OutputChunk, error) {
	c := &OutputChunk{}
	err := json.Unmarshal(data, c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal output chunk")
	}
	if c.Offset < 0 {
		return nil, errors.Errorf("unable to unmarshal output chunk: negative offset %d", c.Offset)
	}
	return c, nil
}
