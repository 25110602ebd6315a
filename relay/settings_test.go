package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_validateSettings(t *testing.T) {
	type args struct {
		s *Settings
	}
	testcases := []struct {
		name string
		args args
		want *Settings
	}{
		{
			name: "defaults are applied to zero values",
			args: args{
				s: &Settings{},
			},
			want: &Settings{
				MaxInFlight:         defaultMaxInFlight,
				ProducePeriod:       defaultProducePeriod,
				PollTimeout:         defaultPollTimeout,
				DrainGrace:          defaultDrainGrace,
				BackpressureTimeout: defaultProducePeriod,
				MaxAttempts:         defaultMaxAttempts,
				Topic:               defaultTopic,
				OffsetReset:         defaultOffsetReset,
			},
		},
		{
			name: "defaults are applied to negative values",
			args: args{
				s: &Settings{
					EnableProducer: true,
					MaxInFlight:    -10,
					ProducePeriod:  -1 * time.Second,
					PollTimeout:    -1 * time.Second,
					DrainGrace:     -1 * time.Second,
					MaxAttempts:    -2,
					OffsetReset:    "somewhere",
				},
			},
			want: &Settings{
				EnableProducer:      true,
				MaxInFlight:         defaultMaxInFlight,
				ProducePeriod:       defaultProducePeriod,
				PollTimeout:         defaultPollTimeout,
				DrainGrace:          defaultDrainGrace,
				BackpressureTimeout: defaultProducePeriod,
				MaxAttempts:         defaultMaxAttempts,
				Topic:               defaultTopic,
				OffsetReset:         defaultOffsetReset,
			},
		},
		{
			name: "the backpressure timeout follows the produce period",
			args: args{
				s: &Settings{
					ProducePeriod: 100 * time.Millisecond,
				},
			},
			want: &Settings{
				MaxInFlight:         defaultMaxInFlight,
				ProducePeriod:       100 * time.Millisecond,
				PollTimeout:         defaultPollTimeout,
				DrainGrace:          defaultDrainGrace,
				BackpressureTimeout: 100 * time.Millisecond,
				MaxAttempts:         defaultMaxAttempts,
				Topic:               defaultTopic,
				OffsetReset:         defaultOffsetReset,
			},
		},
		{
			name: "valid values are kept",
			args: args{
				s: &Settings{
					EnableConsumer:      true,
					MaxInFlight:         2,
					ProducePeriod:       time.Second,
					PollTimeout:         2 * time.Second,
					DrainGrace:          3 * time.Second,
					BackpressureTimeout: 4 * time.Second,
					MaxAttempts:         5,
					Topic:               "payments",
					OffsetReset:         OffsetResetLatest,
				},
			},
			want: &Settings{
				EnableConsumer:      true,
				MaxInFlight:         2,
				ProducePeriod:       time.Second,
				PollTimeout:         2 * time.Second,
				DrainGrace:          3 * time.Second,
				BackpressureTimeout: 4 * time.Second,
				MaxAttempts:         5,
				Topic:               "payments",
				OffsetReset:         OffsetResetLatest,
			},
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			validateSettings(tc.args.s)
			assert.Equal(t, tc.want, tc.args.s)
		})
	}
}
