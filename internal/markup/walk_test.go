package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lineNodes(t *testing.T, text string) []Node {
	t.Helper()
	blocks, err := Parse(text, Options{})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	line, ok := blocks[0].(Line)
	require.True(t, ok)
	return line.Nodes
}

func TestYearHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		year int
		ok   bool
	}{
		{"[2019]", 2019, true},
		{"  [2020]  ", 2020, true},
		{"[* [2021]]", 2021, true},
		{"[2019] extra", 0, false},
		{"[201]", 0, false},
		{"[abcd]", 0, false},
		{"2019", 0, false},
	}
	for _, tc := range tests {
		year, ok := YearHeading(lineNodes(t, tc.in))
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.year, year, tc.in)
	}
}

func TestRelativeLinks_DescendsIntoWrappers(t *testing.T) {
	t.Parallel()

	nodes := lineNodes(t, "[A] [https://x.test B] [/root/C] [* [D] and [E]] #tag [F.icon]")
	require.Equal(t, []string{"A", "D", "E"}, RelativeLinks(nodes))
}

func TestFlatten_UnwrapsDecoration(t *testing.T) {
	t.Parallel()

	require.Equal(t, "x [Link] `c`", Flatten(lineNodes(t, "[/ x [Link]] `c`")))
}
