package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-imagegen-server/internal/app/storage/mocks"
	"github.com/stacklok/toolhive-imagegen-server/internal/config"
	"github.com/stacklok/toolhive-imagegen-server/internal/events"
	"github.com/stacklok/toolhive-imagegen-server/internal/store/memory"
)

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(&config.Config{}))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Equal(t, defaultReadTimeout, built.readTimeout)
	assert.Equal(t, defaultWriteTimeout, built.writeTimeout)
	assert.Equal(t, defaultIdleTimeout, built.idleTimeout)
	assert.Nil(t, built.middlewares)
}

func TestBaseConfig_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := baseConfig(WithAddress(":9090"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":8080"},
		{name: "ipv4 and port", addr: "127.0.0.1:9090"},
		{name: "localhost", addr: "localhost:8080"},
		{name: "ephemeral port", addr: "127.0.0.1:0"},
		{name: "empty", addr: "", wantErr: true},
		{name: "no port", addr: "127.0.0.1", wantErr: true},
		{name: "empty port", addr: "127.0.0.1:", wantErr: true},
		{name: "port out of range", addr: ":70000", wantErr: true},
		{name: "hostname", addr: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithConfig(&config.Config{}), WithAddress(tt.addr))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, built.address)
		})
	}
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	factory := mocks.NewMockFactory(ctrl)
	publisher := events.NewNoop()
	client := &http.Client{}
	mw := func(next http.Handler) http.Handler { return next }

	built, err := baseConfig(
		WithConfig(&config.Config{}),
		WithStorageFactory(factory),
		WithPublisher(publisher),
		WithProviderClient(client),
		WithMiddlewares(mw),
	)
	require.NoError(t, err)
	assert.Same(t, factory, built.storageFactory)
	assert.Same(t, client, built.providerClient)
	assert.Equal(t, publisher, built.publisher)
	assert.Len(t, built.middlewares, 1)
}

func TestNewImageGenApp_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewImageGenApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestNewImageGenApp_StoreFailureCleansUp(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateStore(gomock.Any()).Return(nil, errors.New("database unreachable"))
	factory.EXPECT().Cleanup()

	_, err := NewImageGenApp(context.Background(),
		WithConfig(&config.Config{}),
		WithStorageFactory(factory),
		WithBlobStore(newTestBlobStore(t)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unreachable")
}

func TestNewImageGenApp_UnknownProviderType(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateStore(gomock.Any()).Return(memory.New(), nil)
	factory.EXPECT().Cleanup()

	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "mystery", Type: "carrier-pigeon", BaseURL: "http://localhost", Endpoints: []string{"x/*"}},
		},
	}
	_, err := NewImageGenApp(context.Background(),
		WithConfig(cfg),
		WithStorageFactory(factory),
		WithBlobStore(newTestBlobStore(t)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider type "carrier-pigeon"`)
}

func TestNewImageGenApp_DuplicateProviderName(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateStore(gomock.Any()).Return(memory.New(), nil)
	factory.EXPECT().Cleanup()

	cfg := &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "a", Type: config.ProviderTypePolling, BaseURL: "http://localhost:1", Endpoints: []string{"acme/*"}},
			{Name: "a", Type: config.ProviderTypeQueue, BaseURL: "http://localhost:2", Endpoints: []string{"other/*"}},
		},
	}
	_, err := NewImageGenApp(context.Background(),
		WithConfig(cfg),
		WithStorageFactory(factory),
		WithBlobStore(newTestBlobStore(t)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
}
