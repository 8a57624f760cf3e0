// Package openaicompat implements provider.Provider for any backend that
// speaks the OpenAI Chat Completions protocol (vLLM, LiteLLM, hosted
// OpenAI-compatible services).
package openaicompat
