package generator

// Defaults used when Config leaves a field empty.
const (
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 4000
)

// Config holds the knobs of the generation call.
type Config struct {
	// Model is sent with every request. Empty means DefaultModel.
	Model string

	// MaxTokens caps the length of the generated program. Zero or negative
	// means DefaultMaxTokens.
	MaxTokens int

	// Temperature is passed through when set; nil leaves the backend default.
	Temperature *float64
}

func (c Config) model() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return c.MaxTokens
}
