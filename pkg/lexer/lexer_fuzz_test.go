package lexer

import (
	"testing"
)

// FuzzTokenize feeds random inputs to the lexer to catch panics.
// The lexer should never panic; it returns an error for invalid input.
func FuzzTokenize(f *testing.F) {
	seeds := []string{
		`if elif else return package exit`,
		`and or not true false null`,
		`42 3.14 1e-3 0`,
		`"hello" 'single' "with\nescape" "quote\""`,
		`+ - * / % ^ > < >= <= == != = |> -> ? : . , ...`,
		`[ ] ( )`,
		`close volume 收盘价 _index`,
		"-- INPUT close:number --\n-- OUTPUT x --\n",
		"-- ERROR --\nreturn [0]\n-- ERROR_END --",
		"if a:\n    b = 1\n  c = 2",
		"if a:\n\tb = 1\n",
		`# this is a comment`,
		`x = close[-5:0]`,
		`f = (a, b) -> a + b`,
		``,
		`   `,
		"\t\n\r",
		`"unterminated`,
		`@#$&`,
		`--`,
		`-- --`,
		`...`,
		"x = [1,\n2]",
	}

	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Tokenize panicked on input %q: %v", input, r)
				}
			}()
			Tokenize(input, "fuzz.dp")
		}()
	})
}
