// Package bridge owns message routing and transactions for one context.
//
// Ownership boundary:
// - hop bookkeeping and the terminal-vs-forward decision
// - local dispatch to registered listeners
// - request/reply correlation through the transaction table
//
// Forwarding toward other contexts is delegated to a Forwarder (see package
// relay). Tables are owned by one Router value; several routers can live in
// one process without sharing state.
package bridge
