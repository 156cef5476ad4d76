package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telebot-agent/chatengine/internal/errs"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", "", "")
	assert.True(t, errs.IsConfigMissing(err))
}

func TestCosineIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosineOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineOpposite(t *testing.T) {
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosineDimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}
