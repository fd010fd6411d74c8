package forth

import "strings"

// Definition is what a dictionary name resolves to: a Primitive, a
// controlWord, or a compiled *Word.
type Definition interface {
	definition()
}

func (Primitive) definition()   {}
func (controlWord) definition() {}
func (*Word) definition()       {}

type entry struct {
	name string
	def  Definition
}

// Dictionary is an append-only name store searched newest first. Names are
// case-insensitive.
type Dictionary struct {
	entries []entry
}

func NewDictionary() *Dictionary {
	return &Dictionary{}
}

// Define adds def under name ahead of any earlier entry with the same name.
func (d *Dictionary) Define(name string, def Definition) {
	d.entries = append(d.entries, entry{name: strings.ToLower(name), def: def})
}

// Lookup returns the most recently defined entry for name.
func (d *Dictionary) Lookup(name string) (Definition, bool) {
	name = strings.ToLower(name)
	for i := len(d.entries) - 1; i >= 0; i-- {
		if d.entries[i].name == name {
			return d.entries[i].def, true
		}
	}
	return nil, false
}

func (d *Dictionary) Len() int { return len(d.entries) }

// Words lists the visible names, newest first, each name once.
func (d *Dictionary) Words() []string {
	seen := make(map[string]bool, len(d.entries))
	words := make([]string, 0, len(d.entries))
	for i := len(d.entries) - 1; i >= 0; i-- {
		if name := d.entries[i].name; !seen[name] {
			seen[name] = true
			words = append(words, name)
		}
	}
	return words
}
