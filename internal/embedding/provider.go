package embedding

import (
	"fmt"

	"github.com/anthropics/memory-go/pkg/types"
)

// ProviderType names an execution provider for the ONNX runtime.
type ProviderType string

const (
	ProviderCPU      ProviderType = "cpu"
	ProviderCUDA     ProviderType = "cuda"
	ProviderCoreML   ProviderType = "coreml"
	ProviderDirectML ProviderType = "directml"
	ProviderMIGraphX ProviderType = "migraphx"
	ProviderTensorRT ProviderType = "tensorrt"
	ProviderStub     ProviderType = "stub"
)

// NewEngine builds an embedding engine from configuration. An explicit
// "stub" provider or a missing model path yields the deterministic stub;
// every hardware provider routes through the ONNX engine.
func NewEngine(config types.EmbeddingConfig) (Engine, error) {
	switch ProviderType(config.Provider) {
	case ProviderStub:
		return NewStubEngine(), nil
	case "", ProviderCPU, ProviderCUDA, ProviderCoreML, ProviderDirectML, ProviderMIGraphX, ProviderTensorRT:
		if config.ModelPath == "" {
			return NewStubEngine(), nil
		}
		return NewONNXEngine(config)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}
}
