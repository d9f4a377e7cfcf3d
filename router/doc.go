// Package router maps HTTP requests decoded by the server package to
// application handlers.
//
// Routes are keyed by exact path and method. Unknown paths answer 404, known
// paths with an unregistered method answer 405 and OPTIONS lists the allowed
// methods. Every response carries the CORS headers browsers need to call the
// API from another origin; the allowed origin is read from a ConfigStore on
// each request so it follows hot reloads.
package router
