package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello world", "Hello world"},
		{"empty", "", ""},
		{"tags stripped", "<b>Bold</b> move", "Bold move"},
		{"script removed", `<script>alert(1)</script>Post`, "Post"},
		{"entities decoded", "Fish &amp; Chips", "Fish & Chips"},
		{"attributes dropped", `<a href="javascript:x()">link</a>`, "link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
