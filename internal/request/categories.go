// ABOUTME: Known assistance categories offered to requesters
// ABOUTME: Mirrors the emergency options presented in the client apps

package request

// Assistance categories.
const (
	CategoryDoctor      = "doctor"
	CategoryAccident    = "accident"
	CategoryFirefighter = "firefighter"
)

// Categories returns the known assistance categories.
func Categories() []string {
	return []string{CategoryDoctor, CategoryAccident, CategoryFirefighter}
}

// ValidCategory reports whether c is a known assistance category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryDoctor, CategoryAccident, CategoryFirefighter:
		return true
	}
	return false
}
