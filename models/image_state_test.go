package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageState(t *testing.T) {
	tests := []struct {
		token   string
		want    ImageState
		wantErr bool
	}{
		{token: "NEW", want: ImageStateNew},
		{token: "candidate", want: ImageStateCandidate},
		{token: " Release ", want: ImageStateRelease},
		{token: "SUPERSEDED", want: ImageStateSuperseded},
		{token: "REVOKED", want: ImageStateRevoked},
		{token: "", wantErr: true},
		{token: "R", wantErr: true},
		{token: "ACTIVE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseImageState(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidImageState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeImageState(t *testing.T) {
	assert.Equal(t, "N", EncodeImageState(ImageStateNew))
	assert.Equal(t, "C", EncodeImageState(ImageStateCandidate))
	assert.Equal(t, "R", EncodeImageState(ImageStateRelease))
	assert.Equal(t, "S", EncodeImageState(ImageStateSuperseded))
	assert.Equal(t, "X", EncodeImageState(ImageStateRevoked))
	assert.Equal(t, "X", EncodeImageState(""))
	assert.Equal(t, "X", EncodeImageState("BOGUS"))
}

func TestDecodeImageStateOrDefault(t *testing.T) {
	tests := []struct {
		code string
		want ImageState
	}{
		{"N", ImageStateNew},
		{"C", ImageStateCandidate},
		{"R", ImageStateRelease},
		{"S", ImageStateSuperseded},
		{"X", ImageStateRevoked},
		{"CANDIDATE", ImageStateCandidate},
		{"RELEASE", ImageStateRelease},
		{"", ImageStateRevoked},
		{"Q", ImageStateRevoked},
		{"r", ImageStateRevoked},
		{"garbage", ImageStateRevoked},
	}

	for _, tt := range tests {
		t.Run("code "+tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeImageStateOrDefault(tt.code))
		})
	}
}

func TestImageState_CodecRoundTrip(t *testing.T) {
	for _, s := range ImageStates {
		assert.Equal(t, s, DecodeImageStateOrDefault(EncodeImageState(s)))
	}
}

func TestImageState_UnmarshalJSON(t *testing.T) {
	var s ImageState
	require.NoError(t, json.Unmarshal([]byte(`"release"`), &s))
	assert.Equal(t, ImageStateRelease, s)

	require.NoError(t, json.Unmarshal([]byte(`""`), &s))
	assert.Equal(t, ImageState(""), s)

	err := json.Unmarshal([]byte(`"SHIPPED"`), &s)
	assert.ErrorIs(t, err, ErrInvalidImageState)
}

func TestImageState_IsValid(t *testing.T) {
	for _, s := range ImageStates {
		assert.True(t, s.IsValid())
	}
	assert.False(t, ImageState("").IsValid())
	assert.True(t, ImageStateRevoked.IsRevoked())
	assert.False(t, ImageStateRelease.IsRevoked())
}
