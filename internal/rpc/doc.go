/*
Package rpc is the gRPC transport for the §6 operation set and the
§4.6 cross-server sync protocol. Payloads are framed with the same
varint-based encoding pkg/codec uses for datum values (frame.go)
rather than protobuf messages, so the service is registered with a
hand-written grpc.ServiceDesc (service.go) over a raw-bytes codec
(codec.go) instead of generated stubs. ShardClient (client.go) is both
the worker-facing RPC client and the concrete implementation of
pkg/server's RemoteSync interface for the server-to-server half of the
protocol.
*/
package rpc
