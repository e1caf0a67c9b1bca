// Package agent provides the runtime every fleet agent is built on.
//
// A Base owns an unbounded mailbox and two goroutines: a message loop
// dispatching mailbox messages (and answering queries), and a cycle
// loop calling the Behavior's RunCycle on a fixed interval. Handler
// errors are logged and backed off; the loops only stop on Stop. Agent
// state (status, current task, capability scores) is persisted to the
// agent_states collection so the coordinator can rebuild its capability
// cache after a restart.
package agent
