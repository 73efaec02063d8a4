package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmbeddingDim(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float32
		wantErr bool
	}{
		{"correct dimension", make([]float32, VectorDimension), false},
		{"too short", make([]float32, VectorDimension-1), true},
		{"too long", make([]float32, VectorDimension+1), true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEmbeddingDim(tt.vec)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid embedding")
			} else {
				require.NoError(t, err)
			}
		})
	}
}
