// Package watchtower holds the shared data model for the Watchtower
// supply-chain worker: watched packages, per-version check verdicts,
// contributor activity profiles, and advisory matching helpers.
//
// Behavior lives in the subpackages; this package is types and the few
// pure functions every component needs.
package watchtower
