// Package gateway orchestrates the firstaid-gateway server components.
//
// # Overview
//
// The gateway owns the store, the event bus (optionally relayed over Redis),
// the lifecycle notifier, and the domain services, and exposes them over an
// HTTP JSON API with SSE streams for realtime updates.
//
// # HTTP API
//
// All /api routes require a JWT bearer token. Claiming and listing the open
// queue additionally require the responder role.
//
//	POST /api/requests                    create an assistance request
//	GET  /api/requests                    list requests (responders)
//	GET  /api/requests/{id}               fetch one request
//	POST /api/requests/{id}/claim         atomic claim; 409 carries the winner
//	POST /api/requests/{id}/close         close or cancel
//	POST /api/messages                    append a message (dedup_token optional)
//	GET  /api/messages?peer=&cursor=      backward-paged history
//	GET  /api/events/requests/{id}        SSE request snapshots
//	GET  /api/events/open                 SSE open-queue feed (responders)
//	GET  /api/events/conversation?peer=   SSE conversation messages
//
// Every SSE stream opens with a seed snapshot taken after the subscription
// is registered, so clients start consistent without a read-then-subscribe
// gap.
package gateway
