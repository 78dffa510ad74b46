// Package stem normalises transcript text so different forms of a word match.
//
// Indexed transcripts have the form "~<start ms>~<stemmed line> " repeated
// for every line, the meta part between tildes carries the line's offset.
package stem

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/reiver/go-porterstemmer"
)

const Meta = '~'

var builders = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Line is a timed line of a transcript.
type Line struct {
	Start time.Duration
	Text  string
}

// StemLine lowercases, strips punctuation and stems every word of value,
// joining them with single spaces.
func StemLine(value string) string {
	words := Words(value)
	if len(words) == 0 {
		return ""
	}

	b := builders.Get().(*strings.Builder)
	b.Reset()
	b.Grow(len(value))

	for i, word := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}

	s := b.String()
	builders.Put(b)
	return s
}

// Words returns the stemmed words of value, empty words are dropped.
func Words(value string) []string {
	fields := strings.Fields(value)
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		word := strings.TrimFunc(strings.ToLower(field), trimPunctuation)
		word = strings.Map(dropMeta, word)
		if word == "" {
			continue
		}
		words = append(words, porterstemmer.StemString(word))
	}
	return words
}

// Index builds the searchable form of a transcript.
func Index(lines []Line) string {
	b := builders.Get().(*strings.Builder)
	b.Reset()

	for _, line := range lines {
		stemmed := StemLine(line.Text)
		if stemmed == "" {
			continue
		}

		b.WriteRune(Meta)
		b.WriteString(strconv.FormatInt(line.Start.Milliseconds(), 10))
		b.WriteRune(Meta)
		b.WriteString(stemmed)
		b.WriteByte(' ')
	}

	s := b.String()
	builders.Put(b)
	return s
}

func trimPunctuation(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func dropMeta(r rune) rune {
	if r == Meta {
		return -1
	}
	return r
}
