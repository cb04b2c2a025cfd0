package cfggen_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/jamzercise/lidify-fork/internal/cfggen"
	"github.com/jamzercise/lidify-fork/internal/config"
)

func render(t *testing.T, src *viper.Viper) map[string]any {
	t.Helper()

	w := cfggen.NewCfgGen(src)
	w.AddAll()

	buf := bytes.NewBuffer(nil)
	require.NoError(t, w.WriteTo(buf, "json"))

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func section(t *testing.T, out map[string]any, name string) map[string]any {
	t.Helper()
	s, ok := out[name].(map[string]any)
	require.True(t, ok, "missing section %q", name)
	return s
}

func TestRenderDefaults(t *testing.T) {
	out := render(t, viper.New())

	require.Equal(t, "clap-analyzer", section(t, out, "service")["name"])
	require.Equal(t, config.DriverRedis, section(t, out, "broker")["driver"])
	require.Equal(t, config.DefaultAnalysisQueue, section(t, out, "broker")["queue"])
	require.Equal(t, config.DefaultResponsePrefix, section(t, out, "broker")["response_prefix"])
	require.Equal(t, config.DefaultModelVersion, section(t, out, "clap")["model_version"])
	require.Equal(t, "/music", section(t, out, "worker")["music_path"])
	require.EqualValues(t, 8081, section(t, out, "worker")["health_check_port"])
}

func TestRenderEnvOverrides(t *testing.T) {
	env := strings.Join([]string{
		"MODEL_VERSION=laion-clap-general-v2",
		"NUM_WORKERS=8",
		"BROKER_DRIVER=nats",
		"MUSIC_PATH=/srv/library",
	}, "\n")

	src := viper.New()
	src.SetConfigType("env")
	require.NoError(t, src.ReadConfig(strings.NewReader(env)))

	out := render(t, src)

	require.Equal(t, "laion-clap-general-v2", section(t, out, "clap")["model_version"])
	require.EqualValues(t, 8, section(t, out, "worker")["num_workers"])
	require.Equal(t, config.DriverNATS, section(t, out, "broker")["driver"])
	require.Equal(t, "/srv/library", section(t, out, "worker")["music_path"])

	// Untouched keys keep their defaults.
	require.Equal(t, config.DefaultAnalysisQueue, section(t, out, "broker")["queue"])
	require.Equal(t, "http://localhost:8600", section(t, out, "clap")["runtime_url"])
}

func TestRenderYAML(t *testing.T) {
	w := cfggen.NewCfgGen(viper.New())
	w.AddAll()

	buf := bytes.NewBuffer(nil)
	require.NoError(t, w.WriteTo(buf, "yaml"))
	require.Contains(t, buf.String(), "broker:")
	require.Contains(t, buf.String(), "audio:analysis:queue")
}
