// Package audit buffers security events and hands them to sinks off the
// request path.
//
// A [Dispatcher] relays [Event] values to one [Sink]. Sinks shipped here write
// to a channel, to JSON lines, to a zap logger, or to Sentry; [MultiSink]
// combines them. The package never decides which events exist; the flows and
// the service do.
package audit
