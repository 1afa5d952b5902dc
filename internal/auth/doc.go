// Package auth provides authentication for the first-aid gateway.
//
// Callers authenticate with JWT bearer tokens signed with HS256 using the
// configured jwt_secret. The "sub" claim is the user id; the "admin" claim
// (or membership in the configured admin id list) grants the responder role,
// which is required to claim open assistance requests.
//
// HTTP handlers read the authenticated caller through FromContext after the
// HTTPAuthMiddleware has run. Ownership checks beyond the admin role, such as
// who may close a request, live in the services, not here.
package auth
