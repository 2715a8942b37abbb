package config

// Config holds the application configuration
type Config struct {
	// Main settings
	Paths      []string
	OutputFile string

	// Behavior settings
	InfoOnly bool // classify only, skip structural decoding
	Pretty   bool // indent JSON written to stdout

	// Logging settings
	Verbose bool
	NoColor bool
	LogFile string
}
