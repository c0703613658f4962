// Package node hosts one bridge context as a standalone process.
//
// Ownership boundary:
// - relay transport lifecycle
//
// - router, forwarder and relay listener wiring
//
// - built-in listeners and the admin HTTP surface
//
// Lifecycle order:
// - configure -> start -> serve -> close
//
// A node does not own message semantics; those belong to package bridge.
package node

import "github.com/gin-gonic/gin"

// Node is anything exposing an admin HTTP router.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}
