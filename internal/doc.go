// Package internal contains the implementation packages of seismic.
//
// # Package Organization
//
//   - site: page content, its YAML loader and hot reload, and the templ
//     components rendering each section
//   - contact: contact form state, validation and dispatch
//   - nostr: keys, NIP-01 events, NIP-04 and NIP-44 encryption
//   - relay: websocket relay client and the broadcast pool
//   - server: HTTP server, middleware, rate limiting and the status socket
//   - config: viper-backed configuration with validation
//   - errors, logging, monitoring, validation, version, watcher: shared
//     infrastructure
//
// # Data Flow
//
// A form post reaches server, which runs a contact.Section for the
// request. The section validates the fields and hands the form to a
// contact.Dispatcher, which seals it for the recipient with a fresh
// ephemeral key and broadcasts it through a relay.Pool. The visitor sees
// the banner right away; the delivery report arrives later over the
// status websocket.
package internal
