package isolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClass_String(t *testing.T) {
	assert.Equal(t, "sandboxed", Sandboxed.String())
	assert.Equal(t, "privileged", Privileged.String())
	assert.Equal(t, "unknown", Class(42).String())
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass(" Privileged ")
	require.NoError(t, err)
	assert.Equal(t, Privileged, c)

	c, err = ParseClass("sandbox")
	require.NoError(t, err)
	assert.Equal(t, Sandboxed, c)

	_, err = ParseClass("root")
	assert.Error(t, err)
}

func TestParseProcessType(t *testing.T) {
	tests := map[string]ProcessType{
		"":            ProcessTypeUnknown,
		"gpu":         ProcessTypeGPU,
		"gpu-process": ProcessTypeGPU,
		"Renderer":    ProcessTypeRenderer,
		"utility":     ProcessTypeUtility,
	}
	for in, want := range tests {
		got, err := ParseProcessType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProcessType("plugin")
	assert.Error(t, err)
}

func TestSwitchValue(t *testing.T) {
	cmd := []string{"/bin/worker", "--lang=en", "--type=renderer", "--type=gpu-process"}

	v, ok := SwitchValue(cmd, "type")
	require.True(t, ok)
	assert.Equal(t, "renderer", v, "first occurrence wins")

	_, ok = SwitchValue(cmd, "missing")
	assert.False(t, ok)

	_, ok = SwitchValue(nil, "type")
	assert.False(t, ok)

	_, ok = SwitchValue(cmd, "")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		explicit ProcessType
		cmd      []string
		want     Profile
	}{
		{
			name: "renderer from switch",
			cmd:  []string{"--type=renderer"},
			want: Profile{Type: ProcessTypeRenderer, Class: Sandboxed},
		},
		{
			name: "gpu is privileged and foreground",
			cmd:  []string{"--type=gpu-process"},
			want: Profile{Type: ProcessTypeGPU, Class: Privileged, AlwaysForeground: true},
		},
		{
			name: "utility is sandboxed",
			cmd:  []string{"--type=utility"},
			want: Profile{Type: ProcessTypeUtility, Class: Sandboxed},
		},
		{
			name: "unknown switch",
			cmd:  []string{"--type=plugin"},
			want: Profile{Type: ProcessTypeUnknown, Class: Sandboxed},
		},
		{
			name:     "explicit type overrides switch",
			explicit: ProcessTypeGPU,
			cmd:      []string{"--type=renderer"},
			want:     Profile{Type: ProcessTypeGPU, Class: Privileged, AlwaysForeground: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.explicit, tt.cmd))
		})
	}
}
