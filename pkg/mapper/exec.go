package mapper

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// JokerPattern is the source pattern of the fallback mapping, consulted only
// when no specific mapping matches.
const JokerPattern = "*"

// Mapping pairs a wire-side source prefix with an absolute destination
// directory and an optional symlink directory.
//
// The plain form treats Src as a literal path prefix. Src may instead embed
// named capture groups in regular-expression syntax, e.g.
// `modules/(?P<module>.*?)/sources/`; the captured values are consumed by
// `${name}` placeholders in Dest. Placeholder destinations must pair every
// placeholder with a capture group. Both sides are stored with a trailing
// separator so one mapping can never alias a sibling whose name it prefixes.
type Mapping struct {
	Src  string
	Dest string
	Link string
}

type execRule struct {
	src  string
	dest string
	link string

	// pattern rules carry compiled matchers for both directions; literal
	// rules compare prefixes directly
	fromWire *regexp.Regexp
	toWire   *regexp.Regexp
	srcTmpl  string
}

// ExecMapper maps paths for the exec side, where wire paths resolve through
// an ordered mapping table. When several mappings match, the one consuming
// the longest prefix wins; the joker mapping is a last resort.
type ExecMapper struct {
	rules []*execRule
	joker *execRule
}

// NewExecMapper compiles the mapping table. Destinations and links must be
// absolute; at most one joker mapping is accepted.
func NewExecMapper(mappings []Mapping) (*ExecMapper, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("at least one mapping required")
	}
	m := &ExecMapper{}
	for _, mp := range mappings {
		rule, err := newExecRule(mp)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", mp.Src, err)
		}
		if mp.Src == JokerPattern {
			if m.joker != nil {
				return nil, fmt.Errorf("mapping %q: duplicate joker mapping", mp.Src)
			}
			m.joker = rule
			continue
		}
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

func newExecRule(mp Mapping) (*execRule, error) {
	if mp.Dest == "" {
		return nil, fmt.Errorf("destination required")
	}
	if !filepath.IsAbs(mp.Dest) {
		return nil, fmt.Errorf("destination %q is not absolute", mp.Dest)
	}
	dest := ensureTrailingSlash(filepath.ToSlash(mp.Dest))

	link := ""
	if mp.Link != "" {
		if !filepath.IsAbs(mp.Link) {
			return nil, fmt.Errorf("link %q is not absolute", mp.Link)
		}
		link = ensureTrailingSlash(filepath.ToSlash(mp.Link))
	}

	if mp.Src == JokerPattern {
		if strings.Contains(dest, "${") {
			return nil, fmt.Errorf("joker destination cannot contain placeholders")
		}
		return &execRule{dest: dest, link: link}, nil
	}

	if mp.Src == "" {
		return nil, fmt.Errorf("source pattern required")
	}
	src := ensureTrailingSlash(strings.TrimPrefix(filepath.ToSlash(mp.Src), "/"))

	if !strings.Contains(src, "(?P<") {
		if strings.Contains(dest, "${") {
			return nil, fmt.Errorf("destination placeholders require capture groups in the source")
		}
		return &execRule{src: src, dest: dest, link: link}, nil
	}
	return newPatternRule(src, dest, link)
}

var (
	namedGroupPattern  = regexp.MustCompile(`\(\?P<([A-Za-z][A-Za-z0-9_]*)>.*?\)`)
	placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z][A-Za-z0-9_]*)\}`)
)

// newPatternRule compiles a placeholder mapping in both directions. The
// source is a regular expression anchored at the start of the wire path.
// The reverse matcher is rebuilt from the destination template: literal
// chunks are quoted, placeholders become their source capture groups.
func newPatternRule(src, dest, link string) (*execRule, error) {
	groups := make(map[string]string)
	for _, match := range namedGroupPattern.FindAllStringSubmatch(src, -1) {
		groups[match[1]] = match[0]
	}

	fromWire, err := regexp.Compile("^" + src)
	if err != nil {
		return nil, fmt.Errorf("compile source pattern: %w", err)
	}

	var reverted strings.Builder
	reverted.WriteString("^")
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(dest, -1) {
		name := dest[loc[2]:loc[3]]
		group, known := groups[name]
		if !known {
			return nil, fmt.Errorf("destination placeholder %q has no capture group in the source", name)
		}
		reverted.WriteString(regexp.QuoteMeta(dest[last:loc[0]]))
		reverted.WriteString(group)
		last = loc[1]
	}
	reverted.WriteString(regexp.QuoteMeta(dest[last:]))

	toWire, err := regexp.Compile(reverted.String())
	if err != nil {
		return nil, fmt.Errorf("compile destination matcher: %w", err)
	}

	srcTmpl := src
	for name, group := range groups {
		srcTmpl = strings.Replace(srcTmpl, group, "${"+name+"}", 1)
	}

	return &execRule{
		src:      src,
		dest:     dest,
		link:     link,
		fromWire: fromWire,
		toWire:   toWire,
		srcTmpl:  srcTmpl,
	}, nil
}

// matchWire reports how many leading bytes of rel the rule consumes and the
// destination prefix they rewrite to.
func (r *execRule) matchWire(rel string) (int, string, bool) {
	if r.fromWire == nil {
		if !strings.HasPrefix(rel, r.src) {
			return 0, "", false
		}
		return len(r.src), r.dest, true
	}
	loc := r.fromWire.FindStringSubmatchIndex(rel)
	if loc == nil {
		return 0, "", false
	}
	return loc[1], string(r.fromWire.ExpandString(nil, r.dest, rel, loc)), true
}

// matchLocal is the reverse direction, over the slash form of an absolute
// local path.
func (r *execRule) matchLocal(abs string) (int, string, bool) {
	if r.toWire == nil {
		if !strings.HasPrefix(abs, r.dest) {
			return 0, "", false
		}
		return len(r.dest), r.src, true
	}
	loc := r.toWire.FindStringSubmatchIndex(abs)
	if loc == nil {
		return 0, "", false
	}
	return loc[1], string(r.toWire.ExpandString(nil, r.srcTmpl, abs, loc)), true
}

// ToWire rewrites a local absolute path to its wire form by replacing the
// matched destination prefix with the mapping's source.
func (m *ExecMapper) ToWire(abs string) (string, bool) {
	slashAbs := filepath.ToSlash(filepath.Clean(abs))

	var best *execRule
	bestConsumed := 0
	bestPrefix := ""
	for _, r := range m.rules {
		consumed, srcPrefix, ok := r.matchLocal(slashAbs)
		if ok && consumed > bestConsumed {
			best, bestConsumed, bestPrefix = r, consumed, srcPrefix
		}
	}
	if best == nil && m.joker != nil && strings.HasPrefix(slashAbs, m.joker.dest) {
		best, bestConsumed, bestPrefix = m.joker, len(m.joker.dest), ""
	}
	if best == nil {
		return "", false
	}

	rel := strings.TrimPrefix(bestPrefix+slashAbs[bestConsumed:], "/")
	if rel == "" {
		return "", false
	}
	return rel, true
}

// FromWire resolves a wire path to its destination, substituting captured
// placeholders and attaching the mapping's symlink location when one is
// configured. Paths that would escape their destination after cleaning are
// unmapped.
func (m *ExecMapper) FromWire(rel string) (Target, bool) {
	if rel == "" {
		return Target{}, false
	}
	rel = strings.TrimPrefix(rel, "/")

	var best *execRule
	bestConsumed := 0
	bestPrefix := ""
	for _, r := range m.rules {
		consumed, destPrefix, ok := r.matchWire(rel)
		if ok && consumed > bestConsumed {
			best, bestConsumed, bestPrefix = r, consumed, destPrefix
		}
	}
	if best == nil && m.joker != nil {
		best, bestConsumed, bestPrefix = m.joker, 0, m.joker.dest
	}
	if best == nil {
		return Target{}, false
	}

	remaining := rel[bestConsumed:]
	destDir := filepath.Clean(filepath.FromSlash(bestPrefix))
	path := filepath.Clean(filepath.FromSlash(bestPrefix + remaining))
	if !strings.HasPrefix(path, destDir+string(filepath.Separator)) {
		return Target{}, false
	}

	target := Target{Path: path}
	if best.link != "" {
		target.Link = filepath.Clean(filepath.FromSlash(best.link + remaining))
	}
	return target, true
}

// WatchRoots returns the absolute destination directories the exec side
// watches for changes, deduplicated, in mapping order with the joker last.
// Placeholder destinations are skipped: a template does not name a concrete
// directory until a request resolves it.
func (m *ExecMapper) WatchRoots() []string {
	var roots []string
	seen := make(map[string]struct{})
	appendRoot := func(dest string) {
		root := filepath.Clean(filepath.FromSlash(dest))
		if _, dup := seen[root]; dup {
			return
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	for _, r := range m.rules {
		if strings.Contains(r.dest, "${") {
			continue
		}
		appendRoot(r.dest)
	}
	if m.joker != nil {
		appendRoot(m.joker.dest)
	}
	return roots
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
