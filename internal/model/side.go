package model

import (
	"fmt"
	"strings"
)

// Side names one reserve of an exchange pool.
type Side string

const (
	SideYield Side = "yield"
	SideBase  Side = "base"
)

// Other returns the opposite reserve.
func (s Side) Other() Side {
	if s == SideYield {
		return SideBase
	}
	return SideYield
}

// ParseSide accepts "yield" or "base" in any case.
func ParseSide(input string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(input))) {
	case SideYield:
		return SideYield, nil
	case SideBase:
		return SideBase, nil
	default:
		return "", fmt.Errorf("invalid side: %q", input)
	}
}
