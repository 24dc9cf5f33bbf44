// Package harness runs transaction scenarios through the real executor.
//
// A scenario scripts what the ledger tells the executor about each
// transaction, including duplicated, late and out-of-order notifications,
// and asserts on what the executor did with it: which callbacks fired, in
// which order, and what ended up in the history store.
//
// # Scenario Format
//
//	name: transfer_finalized
//	description: "Duplicate ready and a late finalized fire nothing extra"
//	module_errors:
//	  - { index: 3, error: 7, section: assets, name: InsufficientBalance, docs: "balance too low" }
//	transactions:
//	  - id: t1
//	    call: balances.transfer
//	    args: { dest: bob, amount: 100 }
//	    signer: 1
//	    success: balances.Transfer
//	    notifications:
//	      - { status: ready }
//	      - { status: ready }
//	      - status: inBlock
//	        block: "0xb10c"
//	        events:
//	          - { section: balances, method: Transfer, data: { from: alice, to: bob, amount: 100 } }
//	      - { status: finalized, block: "0xb10c" }
//	    expect:
//	      outcome: finalized
//	      payload: { amount: 100 }
//	assertions:
//	  - { type: trace_count, tx: t1, event: ready, count: 1 }
//	  - { type: trace_order, events: ["t1:status:inBlock", "t1:finalized"] }
//	  - { type: final_state, tx: t1, phase: finalized, statuses: 3 }
//
// signer 0 submits unsigned. reject makes the transport refuse the
// submission. hold_open keeps the notification stream open after the last
// scripted notification instead of ending it, which with timeout produces
// a TIMEOUT failure. cancel_on_ready cancels the watch from inside the
// ready callback.
//
// # Assertion Types
//
//   - trace_contains: an event of the given type (and status or code) exists for tx
//   - trace_order: the listed events appear in this order
//   - trace_count: an event appears exactly count times for tx
//   - final_state: the stored history record has the given phase, last status, code and status count
//
// # Determinism
//
// Transactions run one at a time. Hashes come from the fake ledger's
// counter, trace sequence numbers from testutil.SeqClock and timestamps
// from testutil.WallClock, so a scenario produces the same trace on every
// run and can be compared against a golden file.
package harness
