package cli

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	t.Parallel()

	out := RenderTable([]string{"Species", "Count"}, [][]string{{"hyena", "12"}, {"leopard"}}, []Alignment{AlignLeft, AlignRight})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[1], "Species")
	assert.Contains(t, lines[3], "hyena")
	assert.Contains(t, lines[4], "leopard")
	assert.True(t, strings.HasPrefix(lines[0], "╭"))

	assert.Empty(t, RenderTable(nil, nil, nil))
}

func TestRemote(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "x"}
	c, err := Remote(cmd)
	require.NoError(t, err)
	assert.Nil(t, c)

	AddServerFlag(cmd)
	c, err = Remote(cmd)
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, cmd.Flags().Set(ServerFlag, "http://localhost:8080"))
	c, err = Remote(cmd)
	require.NoError(t, err)
	require.NotNil(t, c)
	c.Close()

	require.NoError(t, cmd.Flags().Set(ServerFlag, "not a url"))
	_, err = Remote(cmd)
	assert.Error(t, err)
}

func TestFormatUnix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", FormatUnix(0))
	assert.NotEqual(t, "-", FormatUnix(1700000000.5))
}
