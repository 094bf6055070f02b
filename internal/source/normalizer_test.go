package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"mis-encoded apostrophe", "Jeffreyâ€™s Apple Watch", AppleWatch},
		{"plain apostrophe", "Jeffrey's Apple Watch", AppleWatch},
		{"non-breaking space", "Jeffrey's\u00a0Apple\u00a0Watch", AppleWatch},
		{"first pipe segment wins", "Eight Sleep Pod|DrZ iPhone", EightSleep},
		{"eight sleep", "Pod 4 Ultra (Eight)", EightSleep},
		{"whoop", "WHOOP 4.0", Whoop},
		{"health app", "Health", AppleWatch},
		{"iphone", "Someone's iPhone 15", IPhone},
		{"glucose monitor", "Dexcom G7", Dexcom},
		{"override table", "DrZ iPhone 17 Pro", IPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			assert.Equal(t, tt.want, got.Label)
			assert.True(t, got.Recognized)
		})
	}
}

func TestNormalize_UnrecognizedPassesThrough(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	n := NewNormalizer(zap.New(core))

	got := n.Normalize("Oura Ring\u00a0Gen3")

	assert.Equal(t, "Oura Ring Gen3", got.Label)
	assert.False(t, got.Recognized)
	assert.Equal(t, 1, logs.FilterMessage("unrecognized source label").Len())
}

func TestNormalize_Empty(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	got := n.Normalize("")
	assert.Equal(t, Unknown, got.Label)
	assert.False(t, got.Recognized)

	got = n.Normalize(" | Apple Watch")
	assert.Equal(t, Unknown, got.Label)
}
