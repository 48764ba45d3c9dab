package deploy

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"", "a.css", "a.css"},
		{"v2", "a.css", "v2/a.css"},
		{"v2", "css/site.css", "v2/css/site.css"},
		{"v2/", "a.css", "v2//a.css"},
		{"", "", ""},
		{"p", "", "p/"},
		{"with space", "ü.png", "with space/ü.png"},
	}
	for _, tt := range tests {
		if got := Key(tt.prefix, tt.name); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}
