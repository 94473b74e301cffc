package env

// Design note: an earlier draft of this protocol had the environment
// answer each driver request inline — e.g. a Birth request's reply was the
// Spawn/Mate message itself, and population/individual lifecycle events
// were multiplexed through the same reply channel as the request they
// answered. That shape reads naturally from the environment's point of
// view, but it couples the environment's reply stream to the driver's
// request cadence: a Death or Score event that the environment wants to
// report asynchronously (outside of answering any particular request) has
// nowhere to go.
//
// This package instead treats Response as the environment's independent,
// asynchronous event stream: Spawn, Mate, Score, Telemetry and Death are
// pushed whenever the environment has something to report, and Ack is the
// only response tied to a specific request. Birth requests are the one
// case that skips acknowledgment entirely, since the individual's eventual
// Death response already closes the loop.
