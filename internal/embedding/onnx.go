package embedding

import (
	"fmt"
	"sync"

	"github.com/anthropics/memory-go/pkg/types"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// ONNXEngine runs a sentence-transformer through hugot's feature-extraction
// pipeline. The pure-Go session needs no external libraries; every
// configured provider runs on it, and the provider name is only recorded
// for Provider().
type ONNXEngine struct {
	mu       sync.Mutex
	dim      int
	provider string
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewONNXEngine loads the model at config.ModelPath and prepares a pipeline
// that emits L2-normalized vectors.
func NewONNXEngine(config types.EmbeddingConfig) (*ONNXEngine, error) {
	provider := config.Provider
	if provider == "" {
		provider = "cpu"
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("hugot session: %w", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: config.ModelPath,
		Name:      "embedding",
	}
	pipelineConfig.Options = append(pipelineConfig.Options, pipelines.WithNormalization())
	pipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("embedding pipeline: %w", err)
	}

	return &ONNXEngine{
		dim:      types.EmbeddingDim,
		provider: provider,
		session:  session,
		pipeline: pipeline,
	}, nil
}

func (e *ONNXEngine) Embed(text string) (types.Embedding, error) {
	batch, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("no embedding produced")
	}
	return batch[0], nil
}

func (e *ONNXEngine) EmbedBatch(texts []string) ([]types.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	out := make([]types.Embedding, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = types.Embedding(emb)
	}
	return out, nil
}

func (e *ONNXEngine) Dimension() int { return e.dim }

func (e *ONNXEngine) Provider() string { return e.provider }

func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

var _ Engine = (*ONNXEngine)(nil)
