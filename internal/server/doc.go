// Package server hosts the Fiber HTTP service: the middleware chain (recover,
// request IDs, access log), the JSON error envelope, and the identity guards
// shared by the route packages. Routes are attached by internal/server/routes
// so this package keeps no dependency on handlers.
package server
