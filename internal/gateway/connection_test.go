package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/profile"
)

func TestEnvList(t *testing.T) {
	assert.Nil(t, envList(nil))
	assert.Nil(t, envList(map[string]string{}))

	list := envList(map[string]string{
		"B_TOKEN": "secret",
		"A_HOST":  "localhost",
	})
	assert.Equal(t, []string{"A_HOST=localhost", "B_TOKEN=secret"}, list, "sorted for deterministic spawns")
}

func TestIsFramingError(t *testing.T) {
	assert.True(t, isFramingError(&json.SyntaxError{}))
	assert.True(t, isFramingError(fmt.Errorf("wrapped: %w", &json.SyntaxError{})))
	assert.True(t, isFramingError(fmt.Errorf("invalid character 'x' looking for beginning of value")))
	assert.True(t, isFramingError(fmt.Errorf("unexpected end of JSON input")))
	assert.False(t, isFramingError(fmt.Errorf("connection refused")))
	assert.False(t, isFramingError(context.DeadlineExceeded))
}

func TestNewConnectionValidation(t *testing.T) {
	_, err := NewConnection(context.Background(), ConnectionConfig{})
	require.Error(t, err)

	_, err = NewConnection(context.Background(), ConnectionConfig{Name: "x"})
	require.Error(t, err)
}

func TestNewConnectionSpawnFailure(t *testing.T) {
	_, err := NewConnection(context.Background(), ConnectionConfig{
		Name: "ghost",
		Spec: profile.ProviderSpec{Command: "/nonexistent/definitely-not-a-binary"},
	})
	require.Error(t, err)
	kind := KindOf(err)
	assert.Contains(t, []ErrorKind{KindSpawnFailed, KindInitializationFailed}, kind)
}
