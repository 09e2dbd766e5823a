// Package api exposes the pipeline over HTTP.
//
// The router maps REST endpoints 1:1 onto service and dispatcher operations,
// translates the service error taxonomy into HTTP status codes with a JSON
// error envelope, serves prometheus metrics, and streams appended project
// events to websocket subscribers.
package api
