package sandbox

import (
	"fmt"

	"codejudger/pkg/errors"
)

// Select returns the first backend able to judge lang. Backends are tried in
// order, so the configured primary wins and later entries act as fallbacks.
func Select(backends []Driver, lang *Language) (Driver, error) {
	for _, d := range backends {
		if d != nil && d.Supports(lang) {
			return d, nil
		}
	}
	return nil, errors.Newf(errors.LanguageNotSupported, "no sandbox backend supports %s", lang.ID)
}

// BoxID maps a worker index onto the instance number space.
func BoxID(base, index int) int {
	id := (base + index) % 1000
	if id < 0 {
		id += 1000
	}
	return id
}

// ValidateBox rejects instance numbers outside 0..999.
func ValidateBox(box int) error {
	if box < 0 || box > 999 {
		return fmt.Errorf("box id %d out of range", box)
	}
	return nil
}
