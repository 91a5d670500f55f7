package mqtt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		// Exact segments
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/b", "a/b/c", false},
		{"a/b/c", "a/b", false},
		{"sensors/temp", "sensors/temperature", false},
		{"sensors/t", "sensors/temp", false},

		// Single-level wildcard
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/b/c", false},
		{"+", "a", true},
		{"+/+", "a/b", true},
		{"+", "a/b", false},
		{"dev/+/temp", "dev/42/temp", true},
		{"a/+", "a/", false},

		// Multi-level wildcard
		{"a/#", "a/b/c", true},
		{"a/#", "a/b", true},
		{"a/#", "a", true},
		{"#", "a/b/c", true},
		{"#", "a", true},
		{"dev/#", "dev/42/temp", true},
		{"dev/#", "other/42", false},
		{"a/+/#", "a/b/c/d", true},

		// "#" that is not last stops the walk with false
		{"a/#/b", "a/x/b", false},
		{"a/#/b", "a/b", false},
		{"#/a", "x/a", false},

		// Empty and trailing-empty segments
		{"", "", true},
		{"", "a", false},
		{"a", "", false},
		{"a/", "a/", true},
		{"a/b/", "a/b", false},
		{"/a", "/a", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.topic), "Match(%q, %q)", tt.pattern, tt.topic)
		})
	}
}

// For patterns without "#" a match requires equal segment counts and every
// non-"+" segment to be identical.
func TestMatch_NoMultiWildcardProperty(t *testing.T) {
	patterns := []string{"a/b", "a/+", "+/b", "+/+/+", "x/+/z", "a"}
	topics := []string{"a", "a/b", "a/c", "b/b", "x/y/z", "a/b/c", "x/y", "q/r/s"}

	for _, p := range patterns {
		for _, topic := range topics {
			ps := strings.Split(p, "/")
			ts := strings.Split(topic, "/")

			want := len(ps) == len(ts)
			if want {
				for i := range ps {
					if ps[i] != WildcardSingle && ps[i] != ts[i] {
						want = false
						break
					}
				}
			}

			assert.Equal(t, want, Match(p, topic), "Match(%q, %q)", p, topic)
		}
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"dev/42/temp", false},
		{"a", false},
		{"", true},
		{"dev/+/temp", true},
		{"dev/#", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTopic)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"dev/+/temp", false},
		{"dev/#", false},
		{"#", false},
		{"+", false},
		{"", true},
		{"a/#/b", true},
		{"a/b#", true},
		{"a/+b/c", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateFilter(tt.filter)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// A filter the grammar rejects still matches by the routing rules.
func TestValidateFilter_DoesNotChangeMatch(t *testing.T) {
	require.Error(t, ValidateFilter("a/#/b"))
	assert.True(t, Match("a/#", "a/b"))
	assert.False(t, Match("a/#/b", "a/x/b"))
}
