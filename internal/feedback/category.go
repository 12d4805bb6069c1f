package feedback

import (
	"fmt"
	"strings"
)

// Category is the disclosure tier a requester asks for.
type Category string

const (
	CategoryNormal      Category = "normal"
	CategoryPastLimit   Category = "past_submission_limit"
	CategoryUltimate    Category = "ultimate_submission"
	CategoryStaffViewer Category = "staff_viewer"
	CategoryMax         Category = "max"
)

// Categories lists every recognised category.
var Categories = []Category{
	CategoryNormal,
	CategoryPastLimit,
	CategoryUltimate,
	CategoryStaffViewer,
	CategoryMax,
}

// ParseCategory converts raw input into a Category.
func ParseCategory(raw string) (Category, error) {
	category := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return category, nil
}

// Valid reports whether the category is one of the five tiers.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
