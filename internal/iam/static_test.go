package iam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPolicy(t *testing.T) {
	p := NewStaticPolicy(map[string][]string{
		"reader": {"fs.read"},
		"ops":    {"net.*"},
		"root":   {"*"},
		"*":      {"public.view"},
	})

	tests := []struct {
		actor, capability string
		want              bool
	}{
		{"reader", "fs.read", true},
		{"reader", "fs.write", false},
		{"ops", "net.fetch", true},
		{"ops", "network", false},
		{"root", "anything", true},
		{"stranger", "public.view", true},
		{"stranger", "fs.read", false},
	}
	for _, tt := range tests {
		t.Run(tt.actor+"/"+tt.capability, func(t *testing.T) {
			v, err := p.Authorize(context.Background(), tt.actor, tt.capability, "urn:x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Allowed)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestStaticPolicy_CopiesGrants(t *testing.T) {
	grants := map[string][]string{"a": {"x"}}
	p := NewStaticPolicy(grants)
	grants["a"][0] = "y"

	v, err := p.Authorize(context.Background(), "a", "x", "")
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}
