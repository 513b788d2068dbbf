package ingest

import "testing"

func TestStripHTML(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "Bitcoin rallied   past\n$100k today.",
			want: "Bitcoin rallied past $100k today.",
		},
		{
			name: "paragraphs keep their breaks",
			in:   "<p>First paragraph.</p><p>Second   paragraph.</p>",
			want: "First paragraph.\n\nSecond paragraph.",
		},
		{
			name: "script and style stripped",
			in:   "<p>Real text.</p><script>alert(1)</script><style>p{}</style>",
			want: "Real text.",
		},
		{
			name: "boilerplate containers stripped",
			in:   `<p>Story.</p><figure><img src="x"/><figcaption>photo credit</figcaption></figure><form><input/></form>`,
			want: "Story.",
		},
		{
			name: "inline-only fragment keeps its text",
			in:   `Read <a href="https://example.com">the full story</a> here`,
			want: "Read the full story here",
		},
		{
			name: "nested blocks are not doubled",
			in:   "<ul><li><p>One point.</p></li><li>Another point.</li></ul>",
			want: "One point.\n\nAnother point.",
		},
		{
			name: "entities decoded",
			in:   "<p>Fear &amp; greed index &gt; 80</p>",
			want: "Fear & greed index > 80",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
