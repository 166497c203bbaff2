// Package server exposes the gateway over HTTP.
//
//	POST /login         start a session, sets the session cookie
//	POST /logout        end the session
//	GET  /check_auth    report whether the cookie holds a live session
//	POST /run           run the tool with {prompt, lambdaChat}
//	GET  /api/history   history of the caller
//	POST /api/history   append one {prompt, response, ...} item
//
// /run and /api/history require a session. Anything else is served from
// the static directory when one is configured.
package server
