package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetStatus_Normalize(t *testing.T) {
	assert.Equal(t, AssetStatusProcessing, AssetStatusEditing.Normalize())
	assert.Equal(t, AssetStatusQueued, AssetStatusQueued.Normalize())
}

func TestAssetStatus_IsActive(t *testing.T) {
	tests := []struct {
		status AssetStatus
		active bool
	}{
		{AssetStatusUploading, false},
		{AssetStatusQueued, true},
		{AssetStatusProcessing, true},
		{AssetStatusEditing, true},
		{AssetStatusReady, false},
		{AssetStatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
		})
	}
}

func TestStylePreferences_WantsAudio(t *testing.T) {
	no := false
	yes := true

	assert.True(t, StylePreferences{}.WantsAudio())
	assert.True(t, StylePreferences{IncludeAudio: &yes}.WantsAudio())
	assert.False(t, StylePreferences{IncludeAudio: &no}.WantsAudio())
}

func TestAsset_Validate(t *testing.T) {
	assert.ErrorIs(t, (&Asset{}).Validate(), ErrUserIDRequired)
	assert.Error(t, (&Asset{UserID: "u1", Progress: 101}).Validate())
	assert.NoError(t, (&Asset{UserID: "u1", Progress: 50}).Validate())
}

func TestAsset_TableName(t *testing.T) {
	assert.Equal(t, "assets", Asset{}.TableName())
}
