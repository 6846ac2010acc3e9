package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args    []string
		want    command
		wantErr bool
	}{
		{nil, command{name: "up"}, false},
		{[]string{"up"}, command{name: "up"}, false},
		{[]string{"down"}, command{name: "down"}, false},
		{[]string{"version"}, command{name: "version"}, false},
		{[]string{"force", "3"}, command{name: "force", version: 3}, false},
		{[]string{"force"}, command{}, true},
		{[]string{"force", "x"}, command{}, true},
		{[]string{"drop"}, command{}, true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.args)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	err := run([]string{"up"}, "", logging.NewWithWriter("error", io.Discard))
	assert.EqualError(t, err, "DATABASE_URL is required")
}
