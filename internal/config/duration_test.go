package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	var s struct {
		Timeout Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte(`timeout: "1h30m"`), &s))
	assert.Equal(t, 90*time.Minute, s.Timeout.Duration())

	require.NoError(t, yaml.Unmarshal([]byte(`timeout: ""`), &s))
	assert.Equal(t, time.Duration(0), s.Timeout.Duration())

	assert.Error(t, yaml.Unmarshal([]byte(`timeout: "bogus"`), &s))
}

func TestDuration_MarshalYAML(t *testing.T) {
	t.Parallel()

	out, err := yaml.Marshal(struct {
		Timeout Duration `yaml:"timeout"`
	}{Timeout: Duration(30 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "30s")
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	var s struct {
		Timeout Duration `json:"timeout"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":"5m"}`), &s))
	assert.Equal(t, 5*time.Minute, s.Timeout.Duration())

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":null}`), &s))
	assert.Equal(t, time.Duration(0), s.Timeout.Duration())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"timeout":"0s"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"timeout":"nope"}`), &s))
}

func TestDuration_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10s", Duration(10*time.Second).String())
}
