package pipeline

import (
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
)

// Instrumentation class names.
const (
	ClassBootstrap = "pipeline.Bootstrap"
	ClassPipeline  = "pipeline.Pipeline"
	ClassEncoder   = "pipeline.Encoder"
)

// Join points exposed by the pipeline.
var (
	MethodConnect     = instrument.Method{Class: ClassBootstrap, Name: "Connect"}
	MethodConnectTo   = instrument.Method{Class: ClassBootstrap, Name: "ConnectTo", Params: []string{"string"}}
	MethodConnectFrom = instrument.Method{Class: ClassBootstrap, Name: "ConnectFrom", Params: []string{"string", "string"}}

	MethodWrite                    = instrument.Method{Class: ClassPipeline, Name: "Write", Params: []string{"any"}}
	MethodWriteWithPromise         = instrument.Method{Class: ClassPipeline, Name: "WriteWithPromise", Params: []string{"any", "Promise"}}
	MethodWriteAndFlush            = instrument.Method{Class: ClassPipeline, Name: "WriteAndFlush", Params: []string{"any"}}
	MethodWriteAndFlushWithPromise = instrument.Method{Class: ClassPipeline, Name: "WriteAndFlushWithPromise", Params: []string{"any", "Promise"}}

	MethodEncode = instrument.Method{Class: ClassEncoder, Name: "Encode", Params: []string{"any"}}
)

// Methods returns the join points the pipeline declares.
func Methods() []instrument.Method {
	return []instrument.Method{
		MethodConnect,
		MethodConnectTo,
		MethodConnectFrom,
		MethodWrite,
		MethodWriteWithPromise,
		MethodWriteAndFlush,
		MethodWriteAndFlushWithPromise,
		MethodEncode,
	}
}

// Catalog declares every join point of the pipeline and its promises.
func Catalog() *instrument.Catalog {
	return instrument.NewCatalog(append(Methods(), future.Methods()...)...)
}
