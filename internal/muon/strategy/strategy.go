package strategy

import (
	"fmt"
	"strings"

	"github.com/banshee-data/muontrack/internal/muon"
)

// Option is a per-strategy switch.
type Option uint16

const (
	CutSeedsOnTracks Option = 1 << iota
	CombineSegInStation
	DynamicSeeding
	PreferOutsideIn
	AllowOneSharedHit
	DoRefinement
	DoAmbiSolving
	RequireTight
)

var optionNames = []struct {
	opt  Option
	name string
}{
	{CutSeedsOnTracks, "CutSeedsOnTracks"},
	{CombineSegInStation, "CombineSegInStation"},
	{DynamicSeeding, "DynamicSeeding"},
	{PreferOutsideIn, "PreferOutsideIn"},
	{AllowOneSharedHit, "AllowOneSharedHit"},
	{DoRefinement, "DoRefinement"},
	{DoAmbiSolving, "DoAmbiSolving"},
	{RequireTight, "RequireTight"},
}

// Has reports whether o includes opt.
func (o Option) Has(opt Option) bool { return o&opt != 0 }

func (o Option) String() string {
	var names []string
	for _, n := range optionNames {
		if o.Has(n.opt) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseOption converts an option name into its flag.
func ParseOption(name string) (Option, error) {
	for _, n := range optionNames {
		if n.name == name {
			return n.opt, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy option %q", name)
}

// Strategy is a named, ordered list of chamber groups searched together.
type Strategy struct {
	Name    string
	Options Option
	Groups  [][]muon.ChamberIndex
}

// String returns the strategy in its configuration syntax.
func (s Strategy) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('[')
	b.WriteString(s.Options.String())
	b.WriteString("]:")
	for i, g := range s.Groups {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteByte(' ')
		for j, ch := range g {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(ch.String())
		}
	}
	return b.String()
}

// Parse reads a strategy of the form "name[opt,opt]: CH,CH; CH; all".
// The option list may be omitted. The token "all" stands for every
// chamber index.
func Parse(text string) (Strategy, error) {
	var s Strategy
	head, body, ok := strings.Cut(text, ":")
	if !ok {
		return s, fmt.Errorf("strategy %q: missing ':'", text)
	}
	head = strings.TrimSpace(head)
	if i := strings.IndexByte(head, '['); i >= 0 {
		if !strings.HasSuffix(head, "]") {
			return s, fmt.Errorf("strategy %q: unterminated option list", text)
		}
		for _, tok := range strings.Split(head[i+1:len(head)-1], ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			opt, err := ParseOption(tok)
			if err != nil {
				return s, fmt.Errorf("strategy %q: %w", text, err)
			}
			s.Options |= opt
		}
		head = strings.TrimSpace(head[:i])
	}
	if head == "" {
		return s, fmt.Errorf("strategy %q: empty name", text)
	}
	s.Name = head

	for _, group := range strings.Split(body, ";") {
		var chambers []muon.ChamberIndex
		for _, tok := range strings.FieldsFunc(group, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			if tok == "all" {
				for ch := 0; ch < muon.NumChambers; ch++ {
					chambers = append(chambers, muon.ChamberIndex(ch))
				}
				continue
			}
			ch, err := muon.ParseChamberIndex(tok)
			if err != nil {
				return s, fmt.Errorf("strategy %q: %w", text, err)
			}
			chambers = append(chambers, ch)
		}
		if len(chambers) > 0 {
			s.Groups = append(s.Groups, chambers)
		}
	}
	if len(s.Groups) == 0 {
		return s, fmt.Errorf("strategy %q: no chamber groups", text)
	}
	return s, nil
}

// ParseAll parses every strategy string, failing on the first error.
func ParseAll(texts []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(texts))
	for _, t := range texts {
		s, err := Parse(t)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
