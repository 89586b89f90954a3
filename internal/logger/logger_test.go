package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
	}{
		{"prod", "", false},
		{"local", "debug", false},
		{"dev", "warn", false},
		{"staging", "", true},
		{"prod", "loud", true},
	}
	for _, tc := range tests {
		l, err := New(tc.env, tc.level)
		if (err != nil) != tc.wantErr {
			t.Errorf("New(%q, %q) error = %v, wantErr %v", tc.env, tc.level, err, tc.wantErr)
			continue
		}
		if l != nil {
			_ = l.Sync()
		}
	}
}
