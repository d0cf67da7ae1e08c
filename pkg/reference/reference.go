// Package reference resolves the references between the entries of a
// bundle.
//
// Every reference moves through a small state machine:
//
//	Unresolved -> Resolving -> ResolvedInBundle | ResolvedExternal |
//	                           UnresolvedExternal | UnresolvedMissing
//
// In-bundle references are matched against entry fullUrls, Type/id pairs and
// contained resources. External references are judged by the reference
// policy; under RequireResolution they are checked through a Lookup bounded
// by a timeout.
package reference

import (
	"regexp"
	"strings"

	"github.com/gofhir/rulecheck/pkg/bundle"
)

// Kind is the syntactic form of a reference.
type Kind int

const (
	KindMalformed Kind = iota
	KindLocal          // #id, a contained resource
	KindRelative       // Type/id[/_history/v]
	KindAbsolute       // http(s)://base/Type/id
	KindUUID           // urn:uuid:...
	KindOID            // urn:oid:...
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRelative:
		return "relative"
	case KindAbsolute:
		return "absolute"
	case KindUUID:
		return "urn-uuid"
	case KindOID:
		return "urn-oid"
	}
	return "malformed"
}

// Reference format patterns.
var (
	relativeRefPattern = regexp.MustCompile(`^[A-Z][A-Za-z]+/[A-Za-z0-9\-.]{1,64}(?:/_history/[A-Za-z0-9\-.]{1,64})?$`)
	absoluteRefPattern = regexp.MustCompile(`^https?://\S+$`)
	fragmentRefPattern = regexp.MustCompile(`^#[A-Za-z0-9\-.]*$`)
	urnUUIDPattern     = regexp.MustCompile(`^urn:uuid:.+$`)
	urnOIDPattern      = regexp.MustCompile(`^urn:oid:[012](\.(0|[1-9]\d*))+$`)
)

// Classify returns the syntactic form of ref.
func Classify(ref string) Kind {
	switch {
	case fragmentRefPattern.MatchString(ref):
		return KindLocal
	case relativeRefPattern.MatchString(ref):
		return KindRelative
	case absoluteRefPattern.MatchString(ref):
		return KindAbsolute
	case urnUUIDPattern.MatchString(ref):
		return KindUUID
	case urnOIDPattern.MatchString(ref):
		return KindOID
	}
	return KindMalformed
}

// External reports whether a reference of kind k may point outside the
// bundle.
func (k Kind) External() bool {
	return k == KindAbsolute || k == KindOID
}

// stripHistory removes a trailing /_history/version.
func stripHistory(ref string) string {
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		return ref[:i]
	}
	return ref
}

// typeID returns the Type/id tail of a relative or absolute reference.
// Examples: "http://example.org/fhir/Patient/123" -> "Patient/123",
// "Patient/123/_history/1" -> "Patient/123".
func typeID(ref string) string {
	ref = stripHistory(ref)
	last := strings.LastIndexByte(ref, '/')
	if last <= 0 || last == len(ref)-1 {
		return ""
	}
	prev := strings.LastIndexByte(ref[:last], '/')
	t := ref[prev+1 : last]
	if t == "" || t[0] < 'A' || t[0] > 'Z' {
		return ""
	}
	return ref[prev+1:]
}

// IDFromFullURL extracts the resource id from a fullUrl, or "" when the
// fullUrl carries none (urn: forms, trailing slash).
func IDFromFullURL(fullURL string) string {
	if strings.HasPrefix(fullURL, "urn:") {
		return ""
	}
	fullURL = stripHistory(fullURL)
	last := strings.LastIndexByte(fullURL, '/')
	if last == -1 || last == len(fullURL)-1 {
		return ""
	}
	return fullURL[last+1:]
}

// index locates entries by fullUrl, Type/id and contained id.
type index struct {
	byFullURL map[string]int
	byTypeID  map[string]int
	contained map[int]map[string]bool
	types     map[int]string
}

func newIndex(b *bundle.Bundle) *index {
	idx := &index{
		byFullURL: make(map[string]int),
		byTypeID:  make(map[string]int),
		contained: make(map[int]map[string]bool),
		types:     make(map[int]string),
	}
	for _, ent := range b.Entries() {
		if ent.Resource == nil {
			continue
		}
		rt, id := ent.Resource.Type(), ent.Resource.ID()
		idx.types[ent.Index] = rt

		if ent.FullURL != "" {
			if _, dup := idx.byFullURL[ent.FullURL]; !dup {
				idx.byFullURL[ent.FullURL] = ent.Index
			}
			if tid := typeID(ent.FullURL); tid != "" && !strings.HasPrefix(ent.FullURL, "urn:") {
				idx.addTypeID(tid, ent.Index)
			}
		}
		if rt != "" && id != "" {
			idx.addTypeID(rt+"/"+id, ent.Index)
		}

		if list, ok := ent.Resource["contained"].([]any); ok {
			ids := make(map[string]bool, len(list))
			for _, c := range list {
				if m, ok := c.(map[string]any); ok {
					if cid, ok := m["id"].(string); ok && cid != "" {
						ids[cid] = true
					}
				}
			}
			idx.contained[ent.Index] = ids
		}
	}
	return idx
}

func (idx *index) addTypeID(tid string, entry int) {
	if _, dup := idx.byTypeID[tid]; !dup {
		idx.byTypeID[tid] = entry
	}
}

// inBundle returns the entry ref points at, or -1.
func (idx *index) inBundle(ref string, kind Kind, from int) int {
	if kind == KindLocal {
		id := strings.TrimPrefix(ref, "#")
		if id == "" || idx.contained[from][id] {
			return from
		}
		return -1
	}
	if i, ok := idx.byFullURL[ref]; ok {
		return i
	}
	if i, ok := idx.byFullURL[stripHistory(ref)]; ok {
		return i
	}
	if kind == KindRelative {
		if i, ok := idx.byTypeID[typeID(ref)]; ok {
			return i
		}
	}
	return -1
}
