// Package assign selects agents for tasks.
//
// The capability Cache holds the coordinator's eventually-consistent
// view of every agent's skill scores, rebuilt from persisted agent
// state at boot. Selectors rank candidates against a task's required
// capabilities: Greedy is the deterministic production path, and
// Reasoner optionally consults an LLM but always degrades to the greedy
// result, so assignment never has a hard dependency on an external
// service.
package assign
