package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// BatchRequest is an ordered array of requests and notifications sent as one frame
type BatchRequest struct {
	items []interface{}
}

// NewBatchRequest builds a batch from *Request and *Notification values
func NewBatchRequest(items ...interface{}) (*BatchRequest, error) {
	if len(items) == 0 {
		return nil, errors.New("batch cannot be empty")
	}
	b := &BatchRequest{items: make([]interface{}, 0, len(items))}
	for i, item := range items {
		switch v := item.(type) {
		case *Request:
			if v == nil {
				return nil, fmt.Errorf("batch item %d is a nil request", i)
			}
		case *Notification:
			if v == nil {
				return nil, fmt.Errorf("batch item %d is a nil notification", i)
			}
		default:
			return nil, fmt.Errorf("batch item %d has unsupported type %T", i, item)
		}
		b.items = append(b.items, item)
	}
	return b, nil
}

// Len returns the number of items in the batch
func (b *BatchRequest) Len() int {
	return len(b.items)
}

// Requests returns the requests in batch order
func (b *BatchRequest) Requests() []*Request {
	var out []*Request
	for _, item := range b.items {
		if r, ok := item.(*Request); ok {
			out = append(out, r)
		}
	}
	return out
}

// Notifications returns the notifications in batch order
func (b *BatchRequest) Notifications() []*Notification {
	var out []*Notification
	for _, item := range b.items {
		if n, ok := item.(*Notification); ok {
			out = append(out, n)
		}
	}
	return out
}

func (b *BatchRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.items)
}

// BatchResponse is the array of responses answering a BatchRequest.
// Notifications in the request produce no entry.
type BatchResponse []*Response

// DecodeBatch classifies every element of a batch frame.
// Elements that fail to classify are reported together; valid elements are still returned.
func DecodeBatch(items []json.RawMessage) ([]*Message, error) {
	out := make([]*Message, 0, len(items))
	var errs []error
	for i, raw := range items {
		m, err := Classify(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		if m.Kind == KindBatch {
			errs = append(errs, fmt.Errorf("item %d: %w: nested batch", i, ErrInvalidMessage))
			continue
		}
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}
