// Package scheduler is the booking orchestrator. It resolves which
// calendar provider a location is connected to, keeps access tokens
// fresh through the credentials manager, and turns provider free/busy
// data into bookable slots.
package scheduler
