package authority

import "testing"

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"exact match", "README.md", "README.md", true},
		{"exact mismatch", "README.md", "CHANGELOG.md", false},
		{"exact nested", "src/main.go", "src/main.go", true},

		{"universal", "**", "anything/at/all", true},

		{"star single segment", "src/*", "src/main.go", true},
		{"star does not cross slash", "src/*", "src/server/main.go", false},
		{"star in middle", "src/*/main.go", "src/server/main.go", true},
		{"question mark", "src/?.go", "src/a.go", true},

		{"suffix doublestar child", "src/**", "src/main.go", true},
		{"suffix doublestar deep", "src/**", "src/a/b/c.go", true},
		{"suffix doublestar bare prefix", "src/**", "src", true},
		{"suffix doublestar other tree", "src/**", "docs/readme.md", false},
		{"suffix doublestar partial prefix", "src/**", "srcx/main.go", false},

		{"prefix doublestar", "**/testdata", "a/b/testdata", true},
		{"prefix doublestar zero segments", "**/testdata", "testdata", true},

		{"interior doublestar zero", "src/**/main.go", "src/main.go", true},
		{"interior doublestar one", "src/**/main.go", "src/server/main.go", true},
		{"interior doublestar deep", "src/**/main.go", "src/a/b/main.go", true},
		{"interior doublestar mismatch", "src/**/main.go", "docs/a/main.go", false},

		{"glob before doublestar", "pkg-*/**", "pkg-core/sub/file", true},

		{"malformed pattern denies", "src/[", "src/a", false},
		{"double doublestar unsupported", "a/**/b/**", "a/x/b/y", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchPattern(tt.pattern, tt.path); got != tt.want {
				t.Fatalf("matchPattern(%q, %q) = %t, want %t", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}
