/*
Package agent assembles the propagation runtime: the join point catalog, the plugin
interceptors sealed into an instrumentation table, the event loop group and the tracer.
Pipelines created through an Agent carry trace context across every asynchronous
boundary without changes to calling code.
*/
package agent
