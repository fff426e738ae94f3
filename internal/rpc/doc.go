// Package rpc defines the node-to-node RPC surface: request and response
// messages, the gRPC service descriptor, a JSON codec registered with gRPC,
// a pooled client and an in-process dialer for tests and embedded clusters.
package rpc
