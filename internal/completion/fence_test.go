package completion

import "testing"

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "```sql\nSELECT 1;\n```", want: "SELECT 1;"},
		{in: "```\nCREATE TABLE result AS SELECT 1;\n```\n", want: "CREATE TABLE result AS SELECT 1;"},
		{in: "```python\nresult = 1\n```\ntrailing words", want: "result = 1"},
		{in: "  SELECT 2;  ", want: "SELECT 2;"},
		{in: "```sql\nSELECT 3;", want: "SELECT 3;"},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
