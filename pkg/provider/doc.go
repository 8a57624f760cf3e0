// Package provider defines the interface flowgen uses to reach a code
// generation service. Adapters (anthropic, openaicompat) translate the
// protocol-neutral Request and Response to their backend's wire format and
// map backend failures to *api.APIError.
package provider
