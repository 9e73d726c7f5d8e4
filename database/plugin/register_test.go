// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin_test

import (
	"errors"
	"testing"

	"github.com/blinklabs-io/landregistry/database/plugin"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct {
	started bool
}

func (m *mockPlugin) Start() error { m.started = true; return nil }
func (m *mockPlugin) Stop() error  { return nil }

func TestRegister(t *testing.T) {
	pluginName := "test-plugin-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               pluginName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})

	require.NotNil(t, plugin.GetPlugin(plugin.PluginTypeBlob, pluginName))
	found := false
	for _, pl := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if pl.Name == pluginName {
			found = true
			break
		}
	}
	assert.True(t, found, "plugin not in GetPlugins list")
	assert.Nil(t, plugin.GetPlugin(plugin.PluginTypeBlob, "does-not-exist"))
}

func TestStartPlugin(t *testing.T) {
	pluginName := "start-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               pluginName,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
	})
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName, plugin.StartConfig{})
	require.NoError(t, err)
	mp, ok := p.(*mockPlugin)
	require.True(t, ok)
	assert.True(t, mp.started)

	_, err = plugin.StartPlugin(plugin.PluginTypeBlob, "missing-"+t.Name(), plugin.StartConfig{})
	require.ErrorContains(t, err, "not found")
}

func TestStartPluginDefersConstructionError(t *testing.T) {
	pluginName := "broken-" + t.Name()
	constructErr := errors.New("bad options")
	plugin.Register(plugin.PluginEntry{
		Type: plugin.PluginTypeBlob,
		Name: pluginName,
		NewFromOptionsFunc: func() plugin.Plugin {
			return plugin.NewErrorPlugin(constructErr)
		},
	})
	_, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName, plugin.StartConfig{})
	require.ErrorIs(t, err, constructErr)
}

func registerOptionPlugin(t *testing.T) (string, *struct {
	dir   string
	size  uint64
	gc    bool
	level int
},
) {
	t.Helper()
	dest := &struct {
		dir   string
		size  uint64
		gc    bool
		level int
	}{}
	name := "opts-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               name,
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
		Options: []plugin.PluginOption{
			{Name: "data-dir", Type: plugin.PluginOptionTypeString, DefaultValue: "/var/lib/land", Dest: &dest.dir},
			{Name: "cache-size", Type: plugin.PluginOptionTypeUint, DefaultValue: uint64(64), Dest: &dest.size},
			{Name: "gc", Type: plugin.PluginOptionTypeBool, DefaultValue: true, Dest: &dest.gc},
			{Name: "level", Type: plugin.PluginOptionTypeInt, DefaultValue: 3, Dest: &dest.level},
		},
	})
	return name, dest
}

func TestSetPluginOption(t *testing.T) {
	name, dest := registerOptionPlugin(t)

	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "data-dir", ""))
	assert.Empty(t, dest.dir)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "cache-size", 1024))
	assert.Equal(t, uint64(1024), dest.size)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "gc", false))
	assert.False(t, dest.gc)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "level", 7))
	assert.Equal(t, 7, dest.level)

	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "data-dir", 123))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "cache-size", -1))
	require.ErrorIs(
		t,
		plugin.SetPluginOption(plugin.PluginTypeBlob, name, "does-not-exist", "x"),
		plugin.ErrPluginOptionNotFound,
	)
	require.ErrorIs(
		t,
		plugin.SetPluginOption(plugin.PluginTypeBlob, "nonexistent", "data-dir", "x"),
		plugin.ErrPluginNotFound,
	)
}

func TestProcessConfig(t *testing.T) {
	name, dest := registerOptionPlugin(t)
	err := plugin.ProcessConfig(map[string]map[string]map[string]any{
		"blob": {
			name: {
				"data-dir":   "/srv/registry",
				"cache-size": 2048,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/srv/registry", dest.dir)
	assert.Equal(t, uint64(2048), dest.size)

	err = plugin.ProcessConfig(map[string]map[string]map[string]any{
		"metadata": {},
	})
	require.ErrorContains(t, err, "unknown plugin type")
}

func TestProcessEnvVars(t *testing.T) {
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               "envtest",
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
		Options: []plugin.PluginOption{
			{Name: "data-dir", Type: plugin.PluginOptionTypeString, Dest: new(string)},
			{Name: "gc", Type: plugin.PluginOptionTypeBool, Dest: new(bool)},
		},
	})
	entry := findEntry(t, "envtest")
	t.Setenv("LANDREGISTRY_BLOB_ENVTEST_DATA_DIR", "/tmp/land")
	t.Setenv("LANDREGISTRY_BLOB_ENVTEST_GC", "true")
	require.NoError(t, plugin.ProcessEnvVars())
	assert.Equal(t, "/tmp/land", *(entry.Options[0].Dest.(*string)))
	assert.True(t, *(entry.Options[1].Dest.(*bool)))

	t.Setenv("LANDREGISTRY_BLOB_ENVTEST_GC", "sometimes")
	require.Error(t, plugin.ProcessEnvVars())
}

func TestPopulateCmdlineOptions(t *testing.T) {
	name, dest := registerOptionPlugin(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))
	assert.Equal(t, "/var/lib/land", dest.dir)
	require.NoError(t, fs.Parse([]string{
		"--blob-" + name + "-data-dir=/data",
		"--blob-" + name + "-gc=false",
	}))
	assert.Equal(t, "/data", dest.dir)
	assert.False(t, dest.gc)
	assert.Equal(t, uint64(64), dest.size)
}

func findEntry(t *testing.T, name string) plugin.PluginEntry {
	t.Helper()
	for _, p := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("plugin %s not registered", name)
	return plugin.PluginEntry{}
}
