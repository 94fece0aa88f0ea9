package collections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/wildlife-reid/internal/collection"
)

func TestTable(t *testing.T) {
	t.Parallel()

	out := Table([]collection.Collection{
		{ID: "serengeti-2024", Name: "Serengeti 2024", CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "legacy", Name: "legacy"},
	})
	assert.Contains(t, out, "serengeti-2024")
	assert.Contains(t, out, "Serengeti 2024")
	assert.Contains(t, out, "2024-06-01")
	assert.Contains(t, out, "-")
}
