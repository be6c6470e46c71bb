// Package frost is a chat gateway: clients register, log in, create or join rooms
// through invite codes and exchange messages that are pushed live to the other
// members of the room.
//
// This package holds the wire contract shared by the server and its clients:
// status codes, request paths and the Gateway and Conn interfaces. The server is
// assembled by package gateway and driven by cmd/frost; package client talks to it.
//
// # Quick Start
//
//	cfg, err := config.Load("configs/frost.yaml")
//	if err != nil {
//	    return err
//	}
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(context.Background())
//
// # Protocol Format
//
// Every message on the TCP stream is a frame:
//
//	[4 bytes: body length (uint32, big-endian)][N bytes: UTF-8 JSON body]
//
// The body is an envelope. Payload fields sit next to the headers object:
//
//	{"headers": {"path": "messages/send", "id": 1, "token": "...", "status": 0}, "room_id": 3, "message": "hi"}
//
// Over WebSocket each binary message carries exactly one frame, prefix included.
// A frame that cannot be read, or whose body is not JSON, closes the connection.
// A JSON body that is not an envelope is answered with StatusMalformedRequest and
// the connection stays open. headers.id may be a number or a decimal string.
// Maximum body: 1MiB by default.
//
// # Routing
//
// headers.path is "<namespace>/<action>" with namespaces authentication, messages
// and rooms. Replies reuse the request path and carry a Status in headers.status,
// with a human readable headers.error when it is not StatusSuccess. Unknown paths
// and payloads that do not match the route are answered with StatusRouteNotFound
// and StatusMalformedRequest; the connection stays open.
//
// Routes other than register and login require headers.id and headers.token from
// the last successful login.
//
// # Pushes
//
// The server sends messages/new, rooms/member_joined and rooms/member_left without
// a request. A message is delivered to every connected member of the room,
// including its author; a join is announced to everyone but the joiner.
//
// # Ordering
//
//   - Requests from one connection are handled one at a time, in arrival order
//   - Each room serialises its mutations, so every member sees the same message order
//   - A connection whose outbound buffer fills up is disconnected
//
// # Rate Limiting
//
// Each connection has its own token bucket (100 requests/second, burst 200 by
// default). A request over the limit is answered with StatusRateLimited and dropped.
package frost
