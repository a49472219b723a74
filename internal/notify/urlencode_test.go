package notify

import "testing"

func TestEncodeURIComponent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain",
			input: "abc123",
			want:  "abc123",
		},
		{
			name:  "space becomes percent twenty",
			input: "a b",
			want:  "a%20b",
		},
		{
			name:  "unreserved marks stay literal",
			input: "a!b'c(d)e~f",
			want:  "a!b'c(d)e~f",
		},
		{
			name:  "json payload",
			input: `{"ordersId":"o-1"}`,
			want:  "%7B%22ordersId%22%3A%22o-1%22%7D",
		},
		{
			name:  "reserved separators escaped",
			input: "a=b&c=d",
			want:  "a%3Db%26c%3Dd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeURIComponent(tt.input); got != tt.want {
				t.Errorf("encodeURIComponent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
