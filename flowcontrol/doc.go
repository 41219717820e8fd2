// Package flowcontrol bounds the outstanding unacknowledged work of a
// subscriber group.
//
// A single Load instance is shared by every stream connection in a group.
// Connections reserve capacity before dispatching a message to the
// receiver and release it after the message is acknowledged or negatively
// acknowledged, so the aggregate buffered load stays within the configured
// message and byte bounds.
package flowcontrol
