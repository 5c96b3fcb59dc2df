// Package api exposes the REST surface for submitting attestation
// sessions, inspecting their state and streaming their progress events.
package api
