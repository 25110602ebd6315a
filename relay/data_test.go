package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
	testcases := []struct {
		name       string
		attributes map[string]any
		want       map[string]any
		expectErr  bool
	}{
		{
			name:       "primitives are kept",
			attributes: map[string]any{"status": "success", "ok": true, "amount": 12.5, "note": nil},
			want:       map[string]any{"status": "success", "ok": true, "amount": 12.5, "note": nil},
		},
		{
			name:       "numbers are normalised",
			attributes: map[string]any{"a": 1, "b": int64(2), "c": uint8(3), "d": float32(0.5)},
			want:       map[string]any{"a": 1.0, "b": 2.0, "c": 3.0, "d": 0.5},
		},
		{
			name:       "nested values are rejected",
			attributes: map[string]any{"items": []string{"a"}},
			expectErr:  true,
		},
		{
			name:       "empty attributes",
			attributes: nil,
			want:       map[string]any{},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewRecord("id", tc.attributes, at)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "id", r.ID)
			assert.Equal(t, tc.want, r.Attributes)
			assert.Equal(t, time.UTC, r.ProducedAt.Location())
			assert.True(t, at.Equal(r.ProducedAt))
		})
	}
}

func TestDeliveryOutcome(t *testing.T) {
	reason := errors.New("timed out")
	testcases := []struct {
		name          string
		outcome       DeliveryOutcome
		wantDelivered bool
		wantRetriable bool
		wantString    string
	}{
		{
			name:          "delivered",
			outcome:       Delivered(2, 40),
			wantDelivered: true,
			wantString:    "delivered [2] offset 40",
		},
		{
			name:       "failed",
			outcome:    Failed(reason),
			wantString: "failed: timed out",
		},
		{
			name:          "failed retriable",
			outcome:       FailedRetriable(reason),
			wantRetriable: true,
			wantString:    "failed: timed out",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantDelivered, tc.outcome.Delivered)
			assert.Equal(t, tc.wantRetriable, tc.outcome.Retriable)
			assert.Equal(t, tc.wantString, tc.outcome.String())
		})
	}
}
