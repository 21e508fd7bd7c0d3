package walink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walink/wabin"
)

func TestMapStreamError(t *testing.T) {
	tests := []struct {
		name       string
		node       *wabin.Node
		wantReason string
		wantCode   int
	}{
		{
			name:       "conflict",
			node:       &wabin.Node{Tag: "stream:error", Content: []wabin.Node{{Tag: "conflict"}}},
			wantReason: "conflict",
			wantCode:   409,
		},
		{
			name:       "replaced",
			node:       &wabin.Node{Tag: "stream:error", Content: []wabin.Node{{Tag: "replaced"}}},
			wantReason: "replaced",
			wantCode:   409,
		},
		{
			name:       "shutdown",
			node:       &wabin.Node{Tag: "stream:error", Content: []wabin.Node{{Tag: "shutdown"}}},
			wantReason: "shutdown",
			wantCode:   503,
		},
		{
			name:       "system shutdown",
			node:       &wabin.Node{Tag: "stream:error", Content: []wabin.Node{{Tag: "system-shutdown"}}},
			wantReason: "system-shutdown",
			wantCode:   515,
		},
		{
			name: "unknown child with code attr",
			node: &wabin.Node{
				Tag:     "stream:error",
				Attrs:   map[string]string{"code": "503"},
				Content: []wabin.Node{{Tag: "overload"}},
			},
			wantReason: "overload",
			wantCode:   503,
		},
		{
			name:       "bare with code attr",
			node:       &wabin.Node{Tag: "stream:error", Attrs: map[string]string{"code": "515"}},
			wantReason: "515",
			wantCode:   515,
		},
		{
			name:       "bare without anything",
			node:       &wabin.Node{Tag: "stream:error"},
			wantReason: "unknown",
			wantCode:   500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamErr, isPing := mapStreamError(tt.node)
			require.False(t, isPing)
			require.NotNil(t, streamErr)
			assert.Equal(t, tt.wantReason, streamErr.Reason)
			assert.Equal(t, tt.wantCode, streamErr.Code)
			assert.Equal(t, "Stream Errored ("+tt.wantReason+")", streamErr.Error())
		})
	}
}

func TestMapStreamErrorPing(t *testing.T) {
	node := &wabin.Node{Tag: "stream:error", Content: []wabin.Node{{Tag: "ping"}}}
	streamErr, isPing := mapStreamError(node)
	assert.True(t, isPing)
	assert.Nil(t, streamErr)
}
