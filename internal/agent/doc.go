// Package agent is an ssh-agent client engine.
//
// Ownership boundary:
// - Message intents and their mapping to request packets
// - the Client loop that owns the agent stream
// - response decoding and the serialized Session helper
//
// Ordering contract:
// - the agent answers requests one at a time, in order
//
// - the Client does not correlate requests with responses; a caller that
// pipelines requests must match responses by position itself
//
// - Session serializes turns and is the safe default for applications
package agent
