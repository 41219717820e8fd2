// Package pullsub provides a flow-controlled, multi-connection subscriber
// group for pull-based JetStream subscriptions.
//
// A Subscriber owns a fixed set of stream connections that share one
// durable consumer, one flow controller bounding outstanding messages and
// bytes, and one latency distribution. The group adapts the stream ack
// deadline periodically from the observed tail latency, and fails fast:
// a fatal failure of any connection tears down all siblings.
//
// Key features:
//   - Load-balanced pulling across N connections over one subscription
//   - Flow control with configurable message and byte bounds, blocking or
//     fail-fast admission
//   - Adaptive ack deadline tracking the 99.9th percentile ack latency
//   - Counting start/stop barriers with context-driven interruption
//   - Pluggable logging, metrics and lifecycle hooks
//
// Basic usage:
//
//	cfg := pullsub.Config{Subscription: "orders"}
//	factory, err := stream.NewFactory(stream.Config{
//	    Stream:       "ORDERS",
//	    Subscription: "orders",
//	}, &stream.DialProvider{URL: nats.DefaultURL}, stream.ReceiverFunc(handle))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sub, err := pullsub.New(&cfg, factory)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sub.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sub.Stop(context.Background())
package pullsub
