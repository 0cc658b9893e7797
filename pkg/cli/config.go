package cli

// Options holds the global command-line options
type Options struct {
	ConfigFile string
	Verbosity  string
	NoColor    bool
	OnFailure  string
	Replace    string
	Version    string
}

// NewOptions creates options with defaults
func NewOptions() *Options {
	return &Options{
		Verbosity: "info",
		Version:   "dev",
	}
}

// DefaultConfigFile is loaded from the working directory when --config is
// not given and the file exists.
const DefaultConfigFile = "cobble.yaml"
