// Package config provides startup configuration for the attestation
// daemon: a JSON config file with sensible defaults covering the API
// server, logging, session storage, run queue, ledger access and
// workflow tuning knobs.
package config
