package sonic

import (
	"fmt"
	"time"

	"github.com/3rs4lg4d0/txrelay/relay"
	"github.com/bytedance/sonic"
)

// wireRecord is the JSON representation of a relay.Record.
type wireRecord struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  string         `json:"timestamp"`
}

// Codec encodes records as JSON documents using sonic.
type Codec struct {
	api sonic.API
}

var _ relay.Codec = (*Codec)(nil)

func New() *Codec {
	return &Codec{api: sonic.ConfigStd}
}

func (c *Codec) Encode(r *relay.Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil record")
	}
	if r.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	attrs, err := relay.Normalize(r.Attributes)
	if err != nil {
		return nil, err
	}
	return c.api.Marshal(&wireRecord{
		ID:         r.ID,
		Attributes: attrs,
		Timestamp:  r.ProducedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (c *Codec) Decode(data []byte) (*relay.Record, error) {
	var w wireRecord
	if err := c.api.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrMalformedPayload, err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing id", relay.ErrMalformedPayload)
	}
	if w.Attributes == nil {
		return nil, fmt.Errorf("%w: missing attributes", relay.ErrMalformedPayload)
	}
	if w.Timestamp == "" {
		return nil, fmt.Errorf("%w: missing timestamp", relay.ErrMalformedPayload)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp: %v", relay.ErrMalformedPayload, err)
	}
	r, err := relay.NewRecord(w.ID, w.Attributes, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrMalformedPayload, err)
	}
	return r, nil
}
