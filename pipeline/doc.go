/*
Package pipeline provides a small event-driven message pipeline: a Bootstrap that
connects Channels through a Transport, and a Pipeline per channel that buffers,
encodes and flushes writes on the channel's event loop. Every connect and write
returns a future.Promise that completes asynchronously, usually on another goroutine.

Connect, write and encode calls are instrumentation join points (see Methods), so
a plugin can carry trace context across the asynchronous hand-off.
*/
package pipeline
