// Package testutil provides shared generators for property-based tests.
// String generators are aggressive on purpose to catch edge cases.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// ArbitraryText generates arbitrary user text, including blank strings.
// NUL bytes are excluded; they do not survive every SQLite text path.
func ArbitraryText() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[^\x00]{0,60}`),
		rapid.Just(""),
		rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`),
		arbitrarySQLInjection(),
		arbitraryUnicode(),
		arbitraryWhitespace(),
	)
}

// ItemText generates text that is non-empty after trimming.
func ItemText() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 ]{0,40}`),
		arbitrarySQLInjection(),
		arbitraryUnicode().Filter(func(s string) bool { return strings.TrimSpace(s) != "" }),
		rapid.Just("  padded  "),
		rapid.Just("line1\nline2"),
	)
}

// BlankText generates strings that are empty after trimming.
func BlankText() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{"", " ", "   ", "\t", "\n", "\r\n", " \t \n ", " ", "　"})
}

// ListName generates valid list names.
func ListName() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringMatching(`[A-Z][a-z]{2,12}`),
		rapid.SampledFrom([]string{"Groceries", "Todos", "Work", "Zürich trip", "日本語", "🔥 hot"}),
	)
}

// ListIcon generates valid icon keys.
func ListIcon() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{"list", "check", "cart", "star", "home", "work_bag", "gift-box"})
}

func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`' OR 1=1 --`,
		`'; DROP TABLE items; --`,
		`" OR "1"="1`,
		`1; SELECT * FROM lists`,
		`admin'--`,
		`' UNION SELECT * FROM history --`,
		`' OR ''='`,
		`<script>alert('xss')</script>`,
		`%27%20OR%20%271%27%3D%271`,
	})
}

func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"日本語",
		"中文测试",
		"العربية",
		"עברית",
		"🔥🎉💻🚀",
		"emoji🔥in🎉middle",
		"Ñoño",
		"Zürich",
		"Москва",
		"Ελληνικά",
		"한국어",
		"​",
		"\uFEFF",
		"à",
		"‮" + "reversed" + "‬",
		"🧑‍💻",
		"\U0001F1FA\U0001F1F8",
		"test space",
		"math∑∏∫",
	})
}

func arbitraryWhitespace() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		" ",
		"\t",
		"\n",
		"\r\n",
		" \t \n ",
		"  test  ",
		"\ttest\t",
		"line1\nline2",
		" ",
		" ",
		"　",
	})
}
