// Package content provides the chat-completion client behind the automated
// pipeline steps.
//
// This package is used by:
//   - Clean transcript step: rewrite the raw transcript into clean prose
//   - Extract insights step: mine scored insights out of cleaned content
//   - Generate posts step: draft one platform-specific post per insight
//
// # Configuration
//
// Requires api_key and model, optionally base_url and timeout. The default
// endpoint is the OpenRouter chat completions API.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 5 attempts by default).
// Context cancellation aborts retries immediately.
package content
