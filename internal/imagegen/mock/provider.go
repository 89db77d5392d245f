package mock

import (
	"context"

	"github.com/kiranshivaraju/merchmate/pkg/models"
)

// ResultImage is the image returned by NewMockGenerator.
var ResultImage = models.Image{MIMEType: "image/png", Data: []byte("mock-result")}

// MockGenerator satisfies models.ImageGenerator for testing.
type MockGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req models.GenerateRequest) (models.Image, error)
}

func (m *MockGenerator) Name() string { return m.Name_ }

func (m *MockGenerator) Generate(ctx context.Context, req models.GenerateRequest) (models.Image, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.Image{}, nil
}

// NewMockGenerator returns a MockGenerator that always succeeds with ResultImage.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.Image, error) {
			return ResultImage, nil
		},
	}
}

// NewFailingGenerator returns a MockGenerator that always returns the given error.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ models.GenerateRequest) (models.Image, error) {
			return models.Image{}, err
		},
	}
}

// NewBlockingGenerator returns a MockGenerator that blocks until ctx is cancelled.
func NewBlockingGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock-blocking",
		GenerateFunc: func(ctx context.Context, _ models.GenerateRequest) (models.Image, error) {
			<-ctx.Done()
			return models.Image{}, models.TransportFailure(ctx.Err())
		},
	}
}

// Compile-time check that MockGenerator implements ImageGenerator.
var _ models.ImageGenerator = (*MockGenerator)(nil)
