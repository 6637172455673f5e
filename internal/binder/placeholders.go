package binder

// CountPlaceholders counts bind markers in sql: positional '?' markers and
// numbered '$N' / '?N' markers (counted as the highest N). Markers inside
// string literals, quoted identifiers and comments are ignored. ok is false
// when the statement mixes styles or uses named markers (:name, @name), in
// which case the count is left to the driver.
func CountPlaceholders(sql string) (n int, ok bool) {
	question, numberedMax := 0, 0
	named := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case '\'', '"', '`':
			i = skipQuoted(sql, i, c)
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				for i < len(sql) && sql[i] != '\n' {
					i++
				}
			}
		case '/':
			if i+1 < len(sql) && sql[i+1] == '*' {
				i += 2
				for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
					i++
				}
				i++
			}
		case '?', '$':
			j := i + 1
			num := 0
			for j < len(sql) && isDigit(sql[j]) {
				num = num*10 + int(sql[j]-'0')
				j++
			}
			switch {
			case j > i+1:
				numberedMax = max(numberedMax, num)
				i = j - 1
			case c == '?':
				question++
			}
		case ':', '@':
			prevColon := i > 0 && sql[i-1] == ':'
			if !prevColon && i+1 < len(sql) && isIdentStart(sql[i+1]) {
				named = true
			}
		}
	}

	switch {
	case named, question > 0 && numberedMax > 0:
		return 0, false
	case numberedMax > 0:
		return numberedMax, true
	default:
		return question, true
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// skipQuoted returns the index of the closing quote matching sql[start].
// A doubled quote inside the literal is an escaped quote.
func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(sql)
}
