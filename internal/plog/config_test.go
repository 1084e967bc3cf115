// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/component-base/logs"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

func TestValidateAndSetLogLevelGlobally(t *testing.T) {
	originalLogLevel := getKlogLevel()
	require.GreaterOrEqual(t, int(originalLogLevel), int(klog.Level(0)), "cannot get klog level")

	tests := []struct {
		name        string
		spec        LogSpec
		wantLevel   klog.Level
		wantEnabled []LogLevel
		wantErr     string
	}{
		{
			name:        "unset",
			wantLevel:   0,
			wantEnabled: []LogLevel{LevelWarning},
		},
		{
			name:        "info",
			spec:        LogSpec{Level: LevelInfo},
			wantLevel:   2,
			wantEnabled: []LogLevel{LevelWarning, LevelInfo},
		},
		{
			name:        "debug",
			spec:        LogSpec{Level: LevelDebug, Format: FormatText},
			wantLevel:   4,
			wantEnabled: []LogLevel{LevelWarning, LevelInfo, LevelDebug},
		},
		{
			name:        "trace",
			spec:        LogSpec{Level: LevelTrace},
			wantLevel:   6,
			wantEnabled: []LogLevel{LevelWarning, LevelInfo, LevelDebug, LevelTrace},
		},
		{
			name:        "all",
			spec:        LogSpec{Level: LevelAll, Format: FormatJSON},
			wantLevel:   108,
			wantEnabled: []LogLevel{LevelWarning, LevelInfo, LevelDebug, LevelTrace, LevelAll},
		},
		{
			name:      "invalid level",
			spec:      LogSpec{Level: "panda"},
			wantLevel: originalLogLevel,
			wantErr:   errInvalidLogLevel.Error(),
		},
		{
			name:      "invalid format",
			spec:      LogSpec{Level: LevelDebug, Format: "xml"},
			wantLevel: originalLogLevel,
			wantErr:   errInvalidLogFormat.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer undoGlobalLogLevelChanges(t, originalLogLevel)

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			err := ValidateAndSetLogLevelAndFormatGlobally(ctx, tt.spec)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantLevel, getKlogLevel())

			for _, level := range []LogLevel{LevelWarning, LevelInfo, LevelDebug, LevelTrace, LevelAll} {
				if tt.wantEnabled == nil {
					continue
				}
				require.Equalf(t, contains(tt.wantEnabled, level), Enabled(level), "level %q", level)
			}
		})
	}

	require.Equal(t, originalLogLevel, getKlogLevel())
}

func TestLogSpecFromYAML(t *testing.T) {
	var spec LogSpec
	require.NoError(t, yaml.Unmarshal([]byte("level: debug\nformat: text\n"), &spec))
	require.Equal(t, LogSpec{Level: LevelDebug, Format: FormatText}, spec)

	spec = LogSpec{}
	require.NoError(t, yaml.Unmarshal([]byte("format: \"\"\n"), &spec))
	require.Equal(t, FormatJSON, spec.Format)

	err := yaml.Unmarshal([]byte("format: cli\n"), &spec)
	require.ErrorContains(t, err, errInvalidLogFormat.Error())
}

func contains(haystack []LogLevel, needle LogLevel) bool {
	for _, hay := range haystack {
		if hay == needle {
			return true
		}
	}
	return false
}

func undoGlobalLogLevelChanges(t *testing.T, originalLogLevel klog.Level) {
	t.Helper()
	_, err := logs.GlogSetter(strconv.Itoa(int(originalLogLevel)))
	require.NoError(t, err)
	globalLevel.SetLevel(zapLevel(originalLogLevel))
}

func getKlogLevel() klog.Level {
	// hack around klog not exposing a Get method
	for i := klog.Level(0); i < 256; i++ {
		if klog.V(i).Enabled() {
			continue
		}
		return i - 1
	}

	return -1
}

func TestLogSpecValidate(t *testing.T) {
	require.NoError(t, LogSpec{}.Validate())
	require.NoError(t, LogSpec{Level: LevelTrace, Format: FormatCLI}.Validate())
	require.EqualError(t, LogSpec{Level: "loud"}.Validate(), errInvalidLogLevel.Error())
	require.EqualError(t, LogSpec{Format: "xml"}.Validate(), errInvalidLogFormat.Error())
}
