package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                    string
		ctx                     *Context
		version, date, systemID string
	}{
		{name: "nil context", ctx: nil, version: UnknownValue, date: UnknownValue, systemID: UnknownValue},
		{name: "empty fields", ctx: NewContext("", "", ""), version: UnknownValue, date: UnknownValue, systemID: UnknownValue},
		{name: "pre-release", ctx: NewContext("1.0.0-beta.1", "2026-01-01", "abc"), version: "1.0.0-beta.1", date: "2026-01-01", systemID: "abc"},
		{name: "build metadata", ctx: NewContext("1.0.0+build.123", "2026-01-01", "abc"), version: "1.0.0+build.123", date: "2026-01-01", systemID: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.systemID, tt.ctx.GetSystemID())
		})
	}
}
