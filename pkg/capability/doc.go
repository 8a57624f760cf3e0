// Package capability implements the operations generated programs may call:
// document search, polling document analysis, chat completion and image
// analysis on the Paradigm document platform.
//
// Programs never see the platform's API key. Each execution receives a
// short-lived token from an Issuer and calls the Gateway, which verifies
// the token and forwards the call through a Client.
package capability
