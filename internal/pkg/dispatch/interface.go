package dispatch

import "context"

// DispatcherInterface is the processing surface used by the service
type DispatcherInterface interface {
	AddFunctionsPipeline(id string, funcs ...PipelineFunc) error
	Submit(id string, key string, data interface{}) error
	Start(ctx context.Context)
	Stop()
}
