// Package harness runs end-to-end session scenarios for conformance tests.
//
// A scenario seeds an in-memory server with offers, drives a real
// session.Session through operator actions and network changes, and checks
// the resulting state tree.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_accept
//	description: "Accept while offline, confirm on reconnect"
//	offers:
//	  - id: T-1
//	    base_payout: 1000
//	conflicts: [T-2]
//	steps:
//	  - do: go_online
//	  - do: reconcile
//	  - do: network_offline
//	  - do: accept
//	    task: T-1
//	    expect: ok
//	  - do: network_online
//	expect:
//	  active: T-1
//	  phase: assigned
//	  pending: 0
//	  events: [accept_queued, accept_confirmed T-1]
//	  absent_events: [offer_conflict]
//
// # Steps
//
//   - network_offline, network_online: flip reachability; going online waits
//     for the reconnect drain and reconciliation to finish
//   - go_online, go_offline, accept, advance, withdraw: operator actions
//   - reconcile, drain, sweep: run one pass of the background work now
//   - advance_clock: move the frozen clock forward by a duration
//   - server_assign, server_take: change server-side ownership of an offer
//
// A step's expect is its outcome: ok, halted (drain only), or a fault kind.
//
// # Deterministic Testing
//
// The session runs with a frozen clock starting at testutil.Epoch,
// sequential operation and request ids, every background timer disabled,
// and an in-memory SQLite database. Identical scenarios therefore produce
// identical summaries for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_accept.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        fmt.Println(e)
//	    }
//	}
package harness
