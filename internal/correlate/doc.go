// Package correlate decides what a transaction notification means.
//
// Correlate is a pure function of (notification, success predicate,
// metadata resolver): it returns Pending, Matched with the success event's
// payload, or Failed with a *Failure carrying a code and a human-readable
// message. Dispatch failures are recognized implicitly; callers only supply
// the success predicate.
//
// Rules, in order:
//  1. a status that can never be included fails with NOT_INCLUDABLE
//  2. a dispatch-failure event fails with DISPATCH_FAILED, or with
//     INCONSISTENT_EVENTS when the success predicate also matches
//  3. an included notification whose events match the success predicate
//     is Matched on the first matching event
//  4. an included notification with no match fails with PREDICATE_MISMATCH
//  5. anything else is Pending
package correlate
