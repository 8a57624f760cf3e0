// Package anthropic implements provider.Provider for the Anthropic
// Messages API.
package anthropic
