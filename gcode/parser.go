package gcode

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	rxParen   = regexp.MustCompile(`\(.*?\)`)
	rxSemi    = regexp.MustCompile(`;.*`)
	rxLetters = regexp.MustCompile(`[A-Za-z]+`)
)

// skipLine reports lines that never produce words: blank lines and
// lines starting with a comment, a program marker or a parameter.
func skipLine(line string) bool {
	if line == "" {
		return true
	}
	switch line[0] {
	case '%', '(', '#', ';':
		return true
	}
	return false
}

// StripComments removes parenthesized and semicolon comments and all spaces.
func StripComments(line string) string {
	line = rxParen.ReplaceAllString(line, "")
	line = rxSemi.ReplaceAllString(line, "")
	return strings.Replace(line, " ", "", -1)
}

// Tokenize splits a line into words. A new word starts at every run of
// letters; the first letter names the word and the remainder is its
// argument. Arguments that are not numbers read as 0, and text before
// the first letter is dropped.
func Tokenize(line string) Block {
	line = StripComments(line)
	idx := rxLetters.FindAllStringIndex(line, -1)
	if len(idx) == 0 {
		return nil
	}

	b := make(Block, 0, len(idx))
	for i, loc := range idx {
		end := len(line)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		tok := line[loc[0]:end]

		var w Word
		w.W = tok[0]
		if w.W >= 'a' && w.W <= 'z' {
			w.W -= 'a' - 'A'
		}
		arg, err := strconv.ParseFloat(strings.TrimSpace(tok[1:]), 64)
		if err == nil {
			w.Arg = arg
		}
		b = append(b, w)
	}

	return b
}

// Parser reads blocks from G-code text, one per line that has words.
type Parser struct {
	sc   *bufio.Scanner
	line int
	text string
}

func NewParser(r io.Reader) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &Parser{sc: sc}
}

// Line is the 1-based number of the line the last block came from.
// After io.EOF it is the number of lines read.
func (p *Parser) Line() int { return p.line }

// Text is the line the last block came from, without its line ending.
func (p *Parser) Text() string { return p.text }

func (p *Parser) Read() (Block, error) {
	for p.sc.Scan() {
		p.line++
		s := strings.TrimRight(p.sc.Text(), "\r")
		if skipLine(s) {
			continue
		}
		b := Tokenize(s)
		if len(b) == 0 {
			continue
		}
		p.text = s
		return b, nil
	}
	if err := p.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
