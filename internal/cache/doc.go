// Package cache implements an identity-preserving in-memory entity cache.
//
// A Cache[T] holds *T values sorted by an integer identity field. Partial
// payloads are merged into the stored instance, so a pointer obtained from
// Get stays valid and observes every later update. Caches can depend on
// each other: a foreign-key field on one cache is resolved into a Ref (or
// a slice of Refs) pointing into another cache, and keys whose target has
// not arrived yet are parked until the target cache announces it.
//
// Field mapping uses struct tags:
//
//	type Order struct {
//		ID       int64                 `cache:",identity"`
//		Note     string                `cache:"note"`
//		Customer cache.Ref[Customer]   `cache:"customer"`
//		Lines    []cache.Ref[Line]     `cache:"line"`
//		Rest     value.Object          `cache:",extra"`
//	}
//
// Payload keys match tag names and registered foreign keys exactly, then
// case-insensitively. Keys with no matching field land in the ",extra"
// object when the type declares one. Foreign keys on nested objects bind
// the resolved field of the nested struct:
//
//	type Shipping struct {
//		Customer cache.Ref[Customer] `cache:"customer"`
//	}
//
// {"orderId": 1, "shipping": {"customerId": 5}} fills Order.Shipping.Customer
// once the Order type declares Shipping *Shipping `cache:"shipping"`.
//
// Caches are not safe for concurrent use. All operations, including event
// delivery, run synchronously on the caller's goroutine.
package cache
