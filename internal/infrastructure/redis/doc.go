// Package redis connects to the ioBroker states database.
//
// Connect keeps pinging the server with exponential backoff until it
// answers or the overall connect timeout expires, so the watcher can be
// started before redis is ready.
package redis
