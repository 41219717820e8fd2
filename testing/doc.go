// Package testing provides test utilities for the pullsub library.
//
// It offers an embedded NATS server with JetStream for integration testing,
// plus helpers for seeding streams and publishing test messages. It follows
// Go's convention of providing testing utilities in a dedicated package
// (similar to net/http/httptest).
//
// Example usage:
//
//	import (
//	    "testing"
//	    pullsubtest "github.com/arloliu/pullsub/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := pullsubtest.StartEmbeddedNATS(t)
//	    pullsubtest.CreateStream(t, nc, "ORDERS", "orders.>")
//	    // Publish and consume against nc
//	}
package testing
