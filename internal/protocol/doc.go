// Package protocol owns the routed wire contract.
//
// Ownership boundary:
// - envelope shape and the immutable per-hop step
// - relay probe/delivery messages
// - validation of raw inbound payloads
//
// Subpackages own byte framing (frame), record codecs (codec) and error
// marshalling (errwire).
package protocol
