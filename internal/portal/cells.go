package portal

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"gradeportal-backend/pkg/htmlutil"
)

// GradeCell is the value of a grade table cell.
type GradeCell struct {
	// Value is nil when nothing has been entered.
	Value  *float64
	Exempt bool
}

var exemptMarkers = map[string]bool{
	"ex":     true,
	"exc":    true,
	"exempt": true,
}

// ParseGradeCell reads a grade cell. Blank cells have no value, exemption
// markers set Exempt, anything that is not a number fails.
func ParseGradeCell(op, entity, text string) (GradeCell, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "%")
	text = strings.TrimSpace(text)
	if text == "" || text == "-" {
		return GradeCell{}, nil
	}
	if exemptMarkers[strings.ToLower(text)] {
		return GradeCell{Exempt: true}, nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return GradeCell{}, NewParseError(op, entity, "grade cell '%s' is not a number", text)
	}
	return GradeCell{Value: &value}, nil
}

// ParseOptionalFloat is ParseGradeCell for cells that cannot be exempt.
func ParseOptionalFloat(op, entity, text string) (*float64, error) {
	cell, err := ParseGradeCell(op, entity, text)
	if err != nil {
		return nil, err
	}
	if cell.Exempt {
		return nil, nil
	}
	return cell.Value, nil
}

var categoryWeightRegex = regexp.MustCompile(`^(.*?)\s*(?:-|:|\(|–)\s*(\d+(?:\.\d+)?)\s*%\s*\)?$`)

// ParseCategoryWeight splits a category heading like "Tests - 50%" or
// "Daily Work (40%)" into its title and weight in parts per hundred.
func ParseCategoryWeight(op, text string) (title string, weight int, err error) {
	text = htmlutil.CleanText(text)
	groups := categoryWeightRegex.FindStringSubmatch(text)
	if groups == nil {
		return "", 0, NewParseError(op, "category", "heading '%s' has no weight", text)
	}
	value, err := strconv.ParseFloat(groups[2], 64)
	if err != nil {
		return "", 0, NewParseError(op, "category", "weight '%s' is not a number", groups[2])
	}
	if groups[1] == "" {
		return "", 0, NewParseError(op, "category", "heading '%s' has no title", text)
	}
	return groups[1], int(math.Round(value)), nil
}

// ParsePoints reads "17/20" or "17 / 20". A blank or exempt earned value
// yields nil, the possible value is required.
func ParsePoints(op, text string) (earned *float64, possible float64, err error) {
	earnedText, possibleText, found := strings.Cut(text, "/")
	if !found {
		return nil, 0, NewParseError(op, "assignment", "points '%s' are not in the form earned/possible", text)
	}
	earned, err = ParseOptionalFloat(op, "assignment", earnedText)
	if err != nil {
		return nil, 0, err
	}
	possible, err = strconv.ParseFloat(strings.TrimSpace(possibleText), 64)
	if err != nil {
		return nil, 0, NewParseError(op, "assignment", "points possible '%s' are not a number", possibleText)
	}
	return earned, possible, nil
}

// ParseInt reads an integer cell such as a period number.
func ParseInt(op, entity, text string) (int, error) {
	text = htmlutil.CleanText(text)
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, NewParseError(op, entity, "'%s' is not an integer", text)
	}
	return n, nil
}
