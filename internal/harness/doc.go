// Package harness runs YAML scenarios against a cache graph.
//
// A scenario names a CUE schema, a list of feed steps and a list of
// assertions:
//
//	name: late_customer
//	description: links fill in as targets arrive
//	schema: ../schema
//	steps:
//	  - cache: order
//	    op: upsert
//	    payloads:
//	      - {orderId: 1, customerId: 7}
//	assertions:
//	  - type: unresolved
//	    cache: order
//	    id: 1
//	    field: customer
//
// Each run builds a fresh graph with a deterministic clock, so the trace
// and final snapshot of a scenario are stable enough for golden files.
package harness
