package version

import "testing"

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		v1       Info
		v2       Info
		expected bool
	}{
		{
			name:     "both empty",
			v1:       Info{},
			v2:       Info{},
			expected: true,
		},
		{
			name:     "same commit",
			v1:       Info{Version: "1.0.0", GitCommit: "abc123"},
			v2:       Info{Version: "1.0.0", GitCommit: "abc123"},
			expected: true,
		},
		{
			name:     "different commits",
			v1:       Info{Version: "1.0.0", GitCommit: "abc123"},
			v2:       Info{Version: "1.0.0", GitCommit: "def456"},
			expected: false,
		},
		{
			name:     "different versions",
			v1:       Info{Version: "1.0.0"},
			v2:       Info{Version: "2.0.0"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.v1.Equal(tt.v2)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version {
		t.Errorf("Get().Version = %q, want %q", info.Version, Version)
	}
	if info.APIVersion != APIVersion {
		t.Errorf("Get().ApiVersion = %q, want %q", info.APIVersion, APIVersion)
	}
	if info.Os == "" || info.Arch == "" {
		t.Errorf("Get() should populate Os/Arch, got %+v", info)
	}
}
