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

package plugin

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

const envPrefix = "LANDREGISTRY"

type PluginType int

const (
	PluginTypeBlob PluginType = 1
)

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeBlob:
		return "blob"
	default:
		return ""
	}
}

// PluginTypeFromName returns the plugin type for the given config section name
func PluginTypeFromName(name string) (PluginType, bool) {
	switch name {
	case "blob":
		return PluginTypeBlob, true
	default:
		return 0, false
	}
}

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = 1
	PluginOptionTypeBool   PluginOptionType = 2
	PluginOptionTypeInt    PluginOptionType = 3
	PluginOptionTypeUint   PluginOptionType = 4
)

var (
	ErrPluginNotFound       = errors.New("plugin not found")
	ErrPluginOptionNotFound = errors.New("plugin option not found")
)

type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
	Type               PluginType
}

var (
	pluginEntries      []PluginEntry
	pluginEntriesMutex sync.RWMutex
)

// Register adds a plugin to the registry. Registering the same type and name
// again replaces the previous entry.
func Register(pluginEntry PluginEntry) {
	pluginEntriesMutex.Lock()
	defer pluginEntriesMutex.Unlock()
	for i, p := range pluginEntries {
		if p.Type == pluginEntry.Type && p.Name == pluginEntry.Name {
			pluginEntries[i] = pluginEntry
			return
		}
	}
	pluginEntries = append(pluginEntries, pluginEntry)
}

// GetPlugins returns the registered plugins of the given type
func GetPlugins(pluginType PluginType) []PluginEntry {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	ret := []PluginEntry{}
	for _, p := range pluginEntries {
		if p.Type == pluginType {
			ret = append(ret, p)
		}
	}
	return ret
}

// GetPlugin returns a new instance of the named plugin, or nil if it isn't
// registered
func GetPlugin(pluginType PluginType, pluginName string) Plugin {
	pluginEntriesMutex.RLock()
	var newFunc func() Plugin
	for _, p := range pluginEntries {
		if p.Type == pluginType && p.Name == pluginName {
			newFunc = p.NewFromOptionsFunc
			break
		}
	}
	pluginEntriesMutex.RUnlock()
	if newFunc == nil {
		return nil
	}
	return newFunc()
}

func flagName(pluginType PluginType, pluginName, optionName string) string {
	return fmt.Sprintf(
		"%s-%s-%s",
		PluginTypeName(pluginType),
		pluginName,
		optionName,
	)
}

func envVarName(pluginType PluginType, pluginName, optionName string) string {
	return strings.ToUpper(
		strings.ReplaceAll(
			strings.Join(
				[]string{
					envPrefix,
					PluginTypeName(pluginType),
					pluginName,
					optionName,
				},
				"_",
			),
			"-",
			"_",
		),
	)
}

// PopulateCmdlineOptions adds a flag for every plugin option, named
// <type>-<plugin>-<option>
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			name := flagName(p.Type, p.Name, opt.Name)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s: expected *string", name)
				}
				def, _ := opt.DefaultValue.(string)
				fs.StringVar(dest, name, def, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s: expected *bool", name)
				}
				def, _ := opt.DefaultValue.(bool)
				fs.BoolVar(dest, name, def, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s: expected *int", name)
				}
				def, _ := opt.DefaultValue.(int)
				fs.IntVar(dest, name, def, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s: expected *uint64", name)
				}
				def, _ := opt.DefaultValue.(uint64)
				fs.Uint64Var(dest, name, def, opt.Description)
			default:
				return fmt.Errorf("unknown plugin option type %d for option %s", opt.Type, name)
			}
		}
	}
	return nil
}

// ProcessEnvVars applies LANDREGISTRY_<TYPE>_<PLUGIN>_<OPTION> environment
// variables to plugin options
func ProcessEnvVars() error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			name := envVarName(p.Type, p.Name, opt.Name)
			val, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			var parsed any
			var err error
			switch opt.Type {
			case PluginOptionTypeString:
				parsed = val
			case PluginOptionTypeBool:
				parsed, err = strconv.ParseBool(val)
			case PluginOptionTypeInt:
				parsed, err = strconv.Atoi(val)
			case PluginOptionTypeUint:
				parsed, err = strconv.ParseUint(val, 10, 64)
			}
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if err := setOptionValue(opt, parsed); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// ProcessConfig applies plugin option values from a config file, keyed by
// plugin type name, plugin name and option name
func ProcessConfig(pluginConfig map[string]map[string]map[string]any) error {
	for typeName, plugins := range pluginConfig {
		pluginType, ok := PluginTypeFromName(typeName)
		if !ok {
			return fmt.Errorf("unknown plugin type: %s", typeName)
		}
		for pluginName, options := range plugins {
			for optionName, value := range options {
				if err := SetPluginOption(pluginType, pluginName, optionName, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SetPluginOption sets the value of a named option for a plugin entry. This
// is used by callers that need to programmatically override plugin defaults
// (for example to set data-dir before starting a plugin).
// NOTE: this writes directly to the option destination and must be called
// before the plugin is instantiated.
func SetPluginOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value any,
) error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, p := range pluginEntries {
		if p.Type != pluginType || p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name != optionName {
				continue
			}
			if err := setOptionValue(opt, value); err != nil {
				return fmt.Errorf("option %s: %w", optionName, err)
			}
			return nil
		}
		return fmt.Errorf(
			"%w: %s plugin '%s' has no option '%s'",
			ErrPluginOptionNotFound,
			PluginTypeName(pluginType),
			pluginName,
			optionName,
		)
	}
	return fmt.Errorf(
		"%w: %s plugin '%s'",
		ErrPluginNotFound,
		PluginTypeName(pluginType),
		pluginName,
	)
}

func setOptionValue(opt PluginOption, value any) error {
	if opt.Dest == nil {
		return errors.New("nil destination")
	}
	switch opt.Type {
	case PluginOptionTypeString:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("invalid type %T: expected string", value)
		}
		dest, ok := opt.Dest.(*string)
		if !ok || dest == nil {
			return errors.New("invalid destination: expected *string")
		}
		*dest = v
	case PluginOptionTypeBool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("invalid type %T: expected bool", value)
		}
		dest, ok := opt.Dest.(*bool)
		if !ok || dest == nil {
			return errors.New("invalid destination: expected *bool")
		}
		*dest = v
	case PluginOptionTypeInt:
		dest, ok := opt.Dest.(*int)
		if !ok || dest == nil {
			return errors.New("invalid destination: expected *int")
		}
		switch tv := value.(type) {
		case int:
			*dest = tv
		case int64:
			*dest = int(tv)
		case uint64:
			if tv > math.MaxInt {
				return fmt.Errorf("value %d overflows int", tv)
			}
			*dest = int(tv)
		default:
			return fmt.Errorf("invalid type %T: expected int", value)
		}
	case PluginOptionTypeUint:
		dest, ok := opt.Dest.(*uint64)
		if !ok || dest == nil {
			return errors.New("invalid destination: expected *uint64")
		}
		switch tv := value.(type) {
		case uint64:
			*dest = tv
		case int:
			if tv < 0 {
				return errors.New("invalid value: negative int")
			}
			*dest = uint64(tv)
		case int64:
			if tv < 0 {
				return errors.New("invalid value: negative int")
			}
			*dest = uint64(tv)
		default:
			return fmt.Errorf("invalid type %T: expected uint", value)
		}
	default:
		return fmt.Errorf("unknown option type %d", opt.Type)
	}
	return nil
}
