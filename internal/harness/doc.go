// Package harness runs end-to-end sync scenarios.
//
// A scenario declares a set of devices, each a full client installation
// (local blob store, Local state, Orchestrator) bound to a client id, and a
// sequence of steps executed against one in-memory server reached over real
// HTTP. Several devices may share a client id; they then sync through the
// same server document.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	devices:
//	  - name: phone
//	    client: alice
//	  - name: laptop
//	    client: alice
//	steps:
//	  - device: phone
//	    action: upsert
//	    collection: characters
//	    entity: { id: "1", name: Aria }
//	  - device: phone
//	    action: sync
//	    expect: { pushed: 1, received: 0 }
//	  - device: laptop
//	    action: delete
//	    collection: characters
//	    id: "1"
//	  - device: laptop
//	    action: settings
//	    value: { theme: dark }
//	assertions:
//	  - type: converged
//	    devices: [phone, laptop]
//	  - type: entity
//	    device: phone
//	    collection: characters
//	    id: "1"
//	    fields: { name: Aria }
//	  - type: deleted
//	    client: alice
//	    collection: characters
//	    id: "1"
//	  - type: settings
//	    device: laptop
//	    value: { theme: dark }
//
// Assertions naming a device inspect that device's local state; assertions
// naming a client inspect the server document for that client.
//
// # Deterministic Testing
//
// Server and devices share a testutil.DeterministicClock, and the trace and
// final-state snapshot written to golden files carry only ids and counts,
// never fingerprints or timestamps. The same scenario therefore produces a
// byte-identical golden file on every run.
package harness
