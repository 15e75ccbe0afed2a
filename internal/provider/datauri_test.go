package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantOK   bool
		wantErr  bool
		wantData string
		wantType string
	}{
		{name: "plain url", input: "https://cdn.example.com/a.png", wantOK: false},
		{name: "base64 png", input: "data:image/png;base64,aGVsbG8=", wantOK: true, wantData: "hello", wantType: "image/png"},
		{name: "no media type", input: "data:;base64,aGVsbG8=", wantOK: true, wantData: "hello"},
		{name: "not base64", input: "data:text/plain,hello", wantOK: true, wantErr: true},
		{name: "no payload", input: "data:image/png;base64", wantOK: true, wantErr: true},
		{name: "bad base64", input: "data:image/png;base64,@@@", wantOK: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, ct, ok, err := DecodeDataURI(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, string(data))
			assert.Equal(t, tt.wantType, ct)
		})
	}
}
