// Package registry provides registration and discovery of live agents.
//
// # Overview
//
// Each running agent registers a Handle, the registry's minimal view of an
// agent: identity, type, lifecycle status, capability scores, and a Post
// method that drops messages into the agent's mailbox. The coordinator
// looks agents up by id, type, or capability and routes work through the
// returned handles.
//
// # Basic Usage
//
// Register an agent at startup:
//
//	reg := registry.New()
//	if err := reg.Register(agent); err != nil {
//	    // ErrDuplicateID: another agent already owns this id
//	}
//
// Discover candidates for assignment:
//
//	for _, h := range reg.Available() {
//	    // agents in error or stopped states are excluded
//	}
//
//	planners := reg.WithCapability(fleet.CapPathPlanning, 0.7)
//	// sorted by score descending, ties by id
//
// Watch for membership changes:
//
//	events, _ := reg.Watch()
//	for ev := range events {
//	    switch ev.Type {
//	    case registry.EventRegistered:
//	        log.Printf("agent %s joined", ev.AgentID)
//	    case registry.EventDeregistered:
//	        log.Printf("agent %s left", ev.AgentID)
//	    }
//	}
//
// # Duplicate IDs
//
// Register refuses a second registration under an existing id rather than
// replacing it. A restarting agent must deregister first (or use a fresh
// id); silently stealing an id would strand the previous agent's mailbox.
package registry
