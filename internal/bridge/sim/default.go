package sim

import (
	_ "embed"
	"fmt"
)

//go:embed profiles/default.yaml
var defaultProfileYAML []byte

// DefaultProfile returns the built-in profile used when no profile file is
// given.
func DefaultProfile() *Profile {
	p, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded profile is invalid: %v", err))
	}
	return p
}
