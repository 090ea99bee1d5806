// Package prompt turns identity matches into a grounding prompt whose
// [<region>] tokens refer, in order, to the returned regions.
package prompt

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/focusedad/internal/types"
)

// RegionToken marks where a region is referenced in the prompt text.
const RegionToken = "[<region>]"

// framePadding is trimmed from the right and bottom edges of the synthetic full-frame region.
const framePadding = 10

// Build produces the prompt for the given matches. With no matches the
// single region covers the whole frame of resolution res.
func Build(matches []types.IdentityMatch, res types.Resolution) types.PromptSpec {
	switch len(matches) {
	case 0:
		return types.PromptSpec{
			Text: fmt.Sprintf("Describe the %s in detail in the video.", RegionToken),
			Regions: types.Regions{{
				Box: types.Box{X2: float64(res.Width - framePadding), Y2: float64(res.Height - framePadding)},
			}},
		}

	case 1:
		m := matches[0]
		return types.PromptSpec{
			Text:    fmt.Sprintf("%s. Describe what %s is doing.", clause(m.Name), m.Name),
			Regions: types.Regions{{Name: m.Name, Box: m.Box}},
		}

	default:
		clauses := make([]string, len(matches))
		names := make([]string, len(matches))
		regions := make(types.Regions, len(matches))
		for i, m := range matches {
			clauses[i] = clause(m.Name)
			names[i] = m.Name
			regions[i] = types.Region{Name: m.Name, Box: m.Box}
		}
		return types.PromptSpec{
			Text: fmt.Sprintf("There are %d objects: %s. Describe the %s in detail in the video.",
				len(matches), strings.Join(clauses, ". "), strings.Join(names, " and ")),
			Regions: regions,
		}
	}
}

func clause(name string) string {
	return fmt.Sprintf("The character name of %s is %s", RegionToken, name)
}
