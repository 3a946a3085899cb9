package download

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFileName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Attention Is All You Need":        "Attention_Is_All_You_Need.pdf",
		"A/B Testing: Why? (2023)":         "A_B_Testing__Why___2023_.pdf",
		"  padded  ":                       "padded.pdf",
		"Über Größe 机器学习":                  "Über_Größe_机器学习.pdf",
		"../../etc/passwd":                 "______etc_passwd.pdf",
		"":                                 "untitled.pdf",
		"   ":                              "untitled.pdf",
		"x.pdf":                            "x_pdf.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, FileName(in), "title %q", in)
	}
}

func TestFileNameIsDeterministic(t *testing.T) {
	t.Parallel()

	title := "Scaling Laws for Neural Language Models, Revisited!"
	first := FileName(title)
	for range 100 {
		assert.Equal(t, first, FileName(title))
	}
}

func TestFileNamePunctuationCollides(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FileName("A-B"), FileName("A:B"))
}

func TestFileNameTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	name := FileName(strings.Repeat("é", 300))
	stem := strings.TrimSuffix(name, ".pdf")
	assert.LessOrEqual(t, len(stem), maxStemBytes)
	assert.True(t, utf8.ValidString(stem))
	assert.Equal(t, 100, utf8.RuneCountInString(stem))
}
