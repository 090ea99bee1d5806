package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/focusedad/internal/types"
)

func match(name string, x1, y1, x2, y2 float64) types.IdentityMatch {
	return types.IdentityMatch{Name: name, Box: types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: 0.9, Distance: 0.5}
}

func TestBuild_NoMatches(t *testing.T) {
	ps := Build(nil, types.Resolution{Height: 480, Width: 640})

	assert.Equal(t, "Describe the [<region>] in detail in the video.", ps.Text)
	require.Len(t, ps.Regions, 1)
	assert.Equal(t, types.Box{X1: 0, Y1: 0, X2: 630, Y2: 470}, ps.Regions[0].Box)
	assert.Empty(t, ps.Regions[0].Name)
}

func TestBuild_OneMatch(t *testing.T) {
	ps := Build([]types.IdentityMatch{match("Alice", 1, 2, 3, 4)}, types.Resolution{Height: 480, Width: 640})

	assert.Equal(t, "The character name of [<region>] is Alice. Describe what Alice is doing.", ps.Text)
	assert.Contains(t, ps.Text, "is doing")
	require.Len(t, ps.Regions, 1)
	assert.Equal(t, []float64{1, 2, 3, 4}, ps.Regions[0].Box.Slice())
}

func TestBuild_TwoMatches(t *testing.T) {
	ps := Build([]types.IdentityMatch{
		match("A", 1, 1, 5, 5),
		match("B", 6, 6, 9, 9),
	}, types.Resolution{Height: 100, Width: 100})

	assert.Equal(t,
		"There are 2 objects: The character name of [<region>] is A. The character name of [<region>] is B. "+
			"Describe the A and B in detail in the video.",
		ps.Text)
	assert.Contains(t, ps.Text, "A and B")
	assert.Equal(t, []string{"A", "B"}, ps.Regions.Names())
	assert.Equal(t, []float64{6, 6, 9, 9}, ps.Regions[1].Box.Slice())
}

func TestBuild_RegionTokensMatchRegions(t *testing.T) {
	for n := 0; n <= 5; n++ {
		var matches []types.IdentityMatch
		for i := 0; i < n; i++ {
			matches = append(matches, match(string(rune('A'+i)), 0, 0, 1, 1))
		}
		ps := Build(matches, types.Resolution{Height: 20, Width: 20})
		assert.Equal(t, len(ps.Regions), strings.Count(ps.Text, RegionToken), "n=%d", n)
	}
}

func TestBuild_SameNameTwice(t *testing.T) {
	ps := Build([]types.IdentityMatch{match("Alice", 0, 0, 1, 1), match("Alice", 2, 2, 3, 3)}, types.Resolution{})
	assert.True(t, strings.HasPrefix(ps.Text, "There are 2 objects:"))
	assert.Contains(t, ps.Text, "Alice and Alice")
}
