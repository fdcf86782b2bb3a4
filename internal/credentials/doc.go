// Package credentials manages per-location OAuth credentials for calendar
// providers: storage with at-rest encryption, access token freshness, and
// single-flight refresh.
//
// Tokens are refreshed shortly before expiry so a token handed to a
// caller does not die mid-request. When many callers hit a stale token at
// once, exactly one upstream refresh runs and everyone shares its result.
package credentials
