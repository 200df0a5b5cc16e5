package ir

// Persisted format versions.
const (
	// FormatLegacy is the layout where resource entries may be bare locator
	// strings and container resources may live under "ops".
	FormatLegacy = 1

	// FormatVersion is the layout written by this version.
	FormatVersion = 2
)
