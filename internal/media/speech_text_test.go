package media

import "testing"

func TestSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  hello   world ", want: "hello world"},
		{name: "markdown", in: "**bold** and _it_ see [docs](https://x.y/z)", want: "bold and it see docs"},
		{name: "url", in: "go to https://example.com/a?b=c now", want: "go to now"},
		{name: "code", in: "run `make` then ```\nrm -rf /\n``` done", want: "run make then done"},
		{name: "emoji", in: "good morning 👋🏽☀️", want: "good morning"},
		{name: "tamil marks kept", in: "வணக்கம் நண்பர்களே!", want: "வணக்கம் நண்பர்களே!"},
		{name: "rate kept", in: "up 12% today", want: "up 12% today"},
		{name: "only symbols", in: "🎉🎉 ###", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SpeechText(tc.in); got != tc.want {
				t.Fatalf("SpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
