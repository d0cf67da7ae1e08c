package suggest

import (
	"errors"
	"sort"
	"strings"

	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/path"
)

// pathKey identifies one profiled path.
type pathKey struct {
	resourceType string
	path         string
}

// stats accumulates everything observed at one logical path.
type stats struct {
	key pathKey

	// present counts resources carrying the path at least once.
	present int
	// nonEmpty counts resources carrying the path as a non-empty array.
	nonEmpty int
	// coded counts resources carrying a system+code object at the path.
	coded int

	arrays      int
	emptyArrays int
	choice      bool
	kinds       map[PrimitiveType]int

	// Scalar values: distinct values in first-seen order, bounded by
	// SampleRetention. total counts every scalar occurrence.
	values   []string
	counts   map[string]int
	overflow bool
	total    int

	shapes     map[string]*shape
	shapeOrder []string
	unshaped   int

	codings     int
	systems     map[string]int
	systemOrder []string
	pairs       []string

	// last* hold the serial of the resource that last bumped a counter,
	// so each resource counts once.
	lastPresent, lastNonEmpty, lastCoded int
}

func newStats(k pathKey) *stats {
	return &stats{
		key:          k,
		kinds:        make(map[PrimitiveType]int),
		counts:       make(map[string]int),
		shapes:       make(map[string]*shape),
		systems:      make(map[string]int),
		lastPresent:  -1,
		lastNonEmpty: -1,
		lastCoded:    -1,
	}
}

// profile is the accumulated observation of a set of bundles.
type profile struct {
	th        Thresholds
	resources map[string]int
	paths     map[pathKey]*stats
	order     []pathKey
	serial    int
}

func newProfile(th Thresholds) *profile {
	return &profile{
		th:        th,
		resources: make(map[string]int),
		paths:     make(map[pathKey]*stats),
	}
}

func (p *profile) stats(k pathKey) *stats {
	s, ok := p.paths[k]
	if !ok {
		s = newStats(k)
		p.paths[k] = s
		p.order = append(p.order, k)
	}
	return s
}

func (p *profile) excluded(resourceType, logical string) bool {
	rel := strings.TrimPrefix(logical, resourceType+".")
	for _, ex := range p.th.ExcludePaths {
		if rel == ex || strings.HasPrefix(rel, ex+".") {
			return true
		}
	}
	return false
}

// addBundle profiles every resource of b in entry order.
func (p *profile) addBundle(nav *path.Navigator, b *bundle.Bundle) error {
	for _, ent := range b.Entries() {
		if err := p.addResource(nav, ent.Resource); err != nil {
			return err
		}
	}
	return nil
}

func (p *profile) addResource(nav *path.Navigator, res bundle.Resource) error {
	rt := res.Type()
	p.resources[rt]++
	serial := p.serial
	p.serial++

	err := nav.Walk(res, func(n path.Node) bool {
		if strings.HasPrefix(n.Key, "_") || p.excluded(rt, n.LogicalPath) {
			return false
		}
		s := p.stats(pathKey{rt, n.LogicalPath})
		if n.Choice {
			s.choice = true
		}

		if !n.InArray {
			if s.lastPresent != serial {
				s.lastPresent = serial
				s.present++
			}
			if arr, ok := n.Value.([]any); ok {
				s.arrays++
				if len(arr) == 0 {
					s.emptyArrays++
				} else if s.lastNonEmpty != serial {
					s.lastNonEmpty = serial
					s.nonEmpty++
				}
				return true
			}
		}
		p.observe(s, n.Value, serial)
		return true
	})
	if err != nil && !errors.Is(err, path.ErrMaxDepth) {
		return err
	}
	return nil
}

// observe records one element value: an array element or a non-array
// field.
func (p *profile) observe(s *stats, v any, serial int) {
	s.kinds[kindOf(v)]++

	if obj, ok := v.(map[string]any); ok {
		system, _ := obj["system"].(string)
		code, ok := bundle.Scalar(obj["code"])
		if system == "" || !ok || code == "" {
			return
		}
		s.codings++
		if s.systems[system] == 0 {
			s.systemOrder = append(s.systemOrder, system)
		}
		s.systems[system]++
		if len(s.pairs) < p.th.EvidenceLimit {
			s.pairs = append(s.pairs, system+"|"+code)
		}
		if s.lastCoded != serial {
			s.lastCoded = serial
			s.coded++
		}
		return
	}

	text, ok := bundle.Scalar(v)
	if !ok {
		return
	}
	s.total++
	p.keep(s, text, 1)

	if _, isString := v.(string); !isString {
		return
	}
	key, runs, ok := signature(text)
	if !ok {
		s.unshaped++
		return
	}
	if sh, seen := s.shapes[key]; seen {
		sh.add(runs, 1)
	} else {
		sh = newShape(runs)
		sh.count = 1
		s.shapes[key] = sh
		s.shapeOrder = append(s.shapeOrder, key)
	}
}

// keep counts a value, retaining at most SampleRetention distinct values.
func (p *profile) keep(s *stats, text string, n int) {
	if _, seen := s.counts[text]; !seen {
		if len(s.values) >= p.th.SampleRetention {
			s.overflow = true
			return
		}
		s.values = append(s.values, text)
	}
	s.counts[text] += n
}

// merge folds o into p. Merging profiles in bundle order yields the same
// statistics as profiling the bundles one after another.
func (p *profile) merge(o *profile) {
	for rt, n := range o.resources {
		p.resources[rt] += n
	}
	for _, k := range o.order {
		src := o.paths[k]
		dst := p.stats(k)

		dst.present += src.present
		dst.nonEmpty += src.nonEmpty
		dst.coded += src.coded
		dst.arrays += src.arrays
		dst.emptyArrays += src.emptyArrays
		dst.choice = dst.choice || src.choice
		for t, n := range src.kinds {
			dst.kinds[t] += n
		}

		dst.total += src.total
		dst.overflow = dst.overflow || src.overflow
		for _, v := range src.values {
			p.keep(dst, v, src.counts[v])
		}

		dst.unshaped += src.unshaped
		for _, key := range src.shapeOrder {
			if sh, ok := dst.shapes[key]; ok {
				sh.merge(src.shapes[key])
				continue
			}
			cp := *src.shapes[key]
			cp.min = append([]int(nil), cp.min...)
			cp.max = append([]int(nil), cp.max...)
			dst.shapes[key] = &cp
			dst.shapeOrder = append(dst.shapeOrder, key)
		}

		dst.codings += src.codings
		for _, sys := range src.systemOrder {
			if dst.systems[sys] == 0 {
				dst.systemOrder = append(dst.systemOrder, sys)
			}
			dst.systems[sys] += src.systems[sys]
		}
		for _, pr := range src.pairs {
			if len(dst.pairs) < p.th.EvidenceLimit {
				dst.pairs = append(dst.pairs, pr)
			}
		}
	}
}

// Classification summarizes one observed path.
type Classification struct {
	Path                string        `json:"path"`
	ResourceType        string        `json:"resourceType"`
	PrimitiveType       PrimitiveType `json:"primitiveType"`
	IsArray             bool          `json:"isArray"`
	DistinctValueCount  int           `json:"distinctValueCount"`
	HasSystemAndCode    bool          `json:"hasSystemAndCode"`
	HasChoiceField      bool          `json:"hasChoiceField"`
	HasConsistentFormat bool          `json:"hasConsistentFormat"`

	// Samples holds up to EvidenceLimit distinct values in first-seen
	// order.
	Samples []string `json:"samples,omitempty"`
}

func (s *stats) primitive() PrimitiveType {
	best, bestN := TypeUnknown, 0
	for _, t := range primitiveOrder {
		if n := s.kinds[t]; n > bestN {
			best, bestN = t, n
		}
	}
	return best
}

// dominantShape returns the most frequent signature; ties go to the one
// seen first.
func (s *stats) dominantShape() (*shape, float64) {
	var best *shape
	shaped := s.unshaped
	for _, key := range s.shapeOrder {
		sh := s.shapes[key]
		shaped += sh.count
		if best == nil || sh.count > best.count {
			best = sh
		}
	}
	if best == nil || shaped == 0 {
		return nil, 0
	}
	return best, float64(best.count) / float64(shaped)
}

// dominantSystem returns the most frequent code system and its share.
func (s *stats) dominantSystem() (string, float64) {
	best, bestN := "", 0
	for _, sys := range s.systemOrder {
		if n := s.systems[sys]; n > bestN {
			best, bestN = sys, n
		}
	}
	if s.codings == 0 {
		return "", 0
	}
	return best, float64(bestN) / float64(s.codings)
}

func (s *stats) classify(th Thresholds) Classification {
	_, consistency := s.dominantShape()
	samples := s.values
	if len(samples) > th.EvidenceLimit {
		samples = samples[:th.EvidenceLimit]
	}
	return Classification{
		Path:                s.key.path,
		ResourceType:        s.key.resourceType,
		PrimitiveType:       s.primitive(),
		IsArray:             s.arrays > 0,
		DistinctValueCount:  len(s.values),
		HasSystemAndCode:    s.codings > 0,
		HasChoiceField:      s.choice,
		HasConsistentFormat: len(s.values) >= th.MinOccurrences && consistency >= th.FormatConsistency,
		Samples:             append([]string(nil), samples...),
	}
}

// classifications returns every profiled path, sorted by resource type
// and path.
func (p *profile) classifications() []Classification {
	keys := append([]pathKey(nil), p.order...)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].resourceType != keys[j].resourceType {
			return keys[i].resourceType < keys[j].resourceType
		}
		return keys[i].path < keys[j].path
	})
	out := make([]Classification, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.paths[k].classify(p.th))
	}
	return out
}
