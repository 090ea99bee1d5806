package segment

import (
	"fmt"
	"math"

	"github.com/andresmejia3/focusedad/internal/types"
)

// ValidateRegions checks every box before any model call. The first bad
// region is reported as a *types.ValidationError carrying its index.
func ValidateRegions(regions types.Regions) error {
	for i, r := range regions {
		if err := validateBox(i, r.Box); err != nil {
			return err
		}
	}
	return nil
}

func validateBox(i int, b types.Box) error {
	for _, c := range b.Slice() {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return &types.ValidationError{Index: i, Reason: "contains non-numeric coordinates"}
		}
	}
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return &types.ValidationError{Index: i, Reason: "invalid coordinates: must satisfy x1 < x2 and y1 < y2"}
	}
	return nil
}

// ParseBoxes turns raw [x1, y1, x2, y2] tuples into validated regions.
func ParseBoxes(raw [][]float64) (types.Regions, error) {
	regions := make(types.Regions, len(raw))
	for i, coords := range raw {
		if len(coords) != 4 {
			return nil, &types.ValidationError{Index: i, Reason: fmt.Sprintf("must contain 4 coordinate values (x1, y1, x2, y2), got %d", len(coords))}
		}
		regions[i] = types.Region{Box: types.Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}}
	}
	if err := ValidateRegions(regions); err != nil {
		return nil, err
	}
	return regions, nil
}
