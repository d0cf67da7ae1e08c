package reference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/path"
)

// ErrNoLookup is the lookup failure reported when RequireResolution is in
// force but no Lookup is configured.
var ErrNoLookup = errors.New("no external reference lookup configured")

// Lookup checks whether an external reference exists.
type Lookup interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, ref string) (bool, error)

// Exists implements Lookup.
func (f LookupFunc) Exists(ctx context.Context, ref string) (bool, error) {
	return f(ctx, ref)
}

// Resolution is the outcome for one reference.
type Resolution struct {
	// Entry is the index of the entry holding the reference.
	Entry        int
	ResourceType string

	// Path is the concrete path of the reference string, e.g.
	// "Observation.subject.reference".
	Path      string
	Reference string
	Kind      Kind
	State     State

	// DeclaredType is the Reference.type sibling, if any.
	DeclaredType string

	// Target is the referenced entry for in-bundle references, else -1.
	Target int

	// Err explains a failed external lookup.
	Err error
}

func (r *Resolution) advance(to State) {
	r.State = transition(r.State, to)
}

// Config configures a Resolver.
type Config struct {
	Navigator *path.Navigator
	Lookup    Lookup
	Logger    *logger.Logger

	// LookupTimeout bounds each external lookup. Zero means
	// rc.DefaultSettings().LookupTimeout.
	LookupTimeout time.Duration

	// Workers bounds concurrent external lookups.
	Workers int

	// ReportUnreachable reports entries of document and message bundles
	// that cannot be reached from the first entry.
	ReportUnreachable bool
}

// Resolver resolves references. It holds no per-run state and is safe for
// concurrent use.
type Resolver struct {
	cfg Config
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	def := rc.DefaultSettings()
	if cfg.Navigator == nil {
		cfg.Navigator = path.New(nil, def.MaxDepth)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Resolver{cfg: cfg}
}

// WithSettings returns a Resolver sharing r's collaborators with the
// timeouts, depth cap and reporting switches of s.
func (r *Resolver) WithSettings(s rc.Settings) *Resolver {
	cfg := r.cfg
	if s.LookupTimeout > 0 {
		cfg.LookupTimeout = s.LookupTimeout
	}
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	cfg.ReportUnreachable = s.ReportUnreachable
	cfg.Navigator = cfg.Navigator.WithMaxDepth(s.MaxDepth)
	return &Resolver{cfg: cfg}
}

// Resolve resolves every reference in b and returns the findings the policy
// calls for. A missing reference is an error under every policy.
func (r *Resolver) Resolve(ctx context.Context, b *bundle.Bundle, policy rc.ReferencePolicy) ([]rc.Finding, error) {
	res, err := r.Trace(ctx, b, policy)
	if err != nil {
		return nil, err
	}

	var findings []rc.Finding
	for i := range res {
		if f, ok := finding(&res[i], policy); ok {
			findings = append(findings, f)
		}
	}
	findings = append(findings, typeMismatches(b, res)...)

	if r.cfg.ReportUnreachable && (b.Type() == "document" || b.Type() == "message") {
		findings = append(findings, unreachable(b, res)...)
	}
	return findings, nil
}

// Trace resolves every reference in b, in entry order and then path order.
func (r *Resolver) Trace(ctx context.Context, b *bundle.Bundle, policy rc.ReferencePolicy) ([]Resolution, error) {
	idx := newIndex(b)

	var res []Resolution
	for _, ent := range b.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ent.Resource == nil {
			continue
		}
		refs, err := r.collect(ent)
		if err != nil {
			r.cfg.Logger.Warn("entry %d: %v", ent.Index, err)
		}
		for _, rs := range refs {
			rs.advance(Resolving)
			rs.Kind = Classify(rs.Reference)
			if t := idx.inBundle(rs.Reference, rs.Kind, ent.Index); t >= 0 {
				rs.Target = t
				rs.advance(ResolvedInBundle)
			} else if !rs.Kind.External() {
				rs.advance(UnresolvedMissing)
			}
			res = append(res, rs)
		}
	}

	if policy == rc.RequireResolution {
		outcomes, err := r.lookupAll(ctx, res)
		if err != nil {
			return nil, err
		}
		for i := range res {
			if res[i].State != Resolving {
				continue
			}
			if err := outcomes[res[i].Reference]; err != nil {
				res[i].Err = err
				res[i].advance(UnresolvedExternal)
			} else {
				res[i].advance(ResolvedExternal)
			}
		}
		return res, nil
	}

	for i := range res {
		if res[i].State == Resolving {
			res[i].advance(UnresolvedExternal)
		}
	}
	return res, nil
}

// collect finds the reference strings of an entry's resource.
func (r *Resolver) collect(ent bundle.Entry) ([]Resolution, error) {
	var out []Resolution
	rt := ent.Resource.Type()
	err := r.cfg.Navigator.Walk(ent.Resource, func(n path.Node) bool {
		if n.Key != "reference" || n.InArray {
			return true
		}
		s, ok := n.Value.(string)
		if !ok || s == "" {
			return true
		}
		declared, _ := n.Parent["type"].(string)
		out = append(out, Resolution{
			Entry:        ent.Index,
			ResourceType: rt,
			Path:         n.Path,
			Reference:    s,
			State:        Unresolved,
			Target:       -1,
			DeclaredType: declared,
		})
		return true
	})
	return out, err
}

// lookupAll checks each distinct pending external reference once. The
// returned map holds nil for references that exist.
func (r *Resolver) lookupAll(ctx context.Context, res []Resolution) (map[string]error, error) {
	var refs []string
	seen := make(map[string]bool)
	for i := range res {
		if res[i].State == Resolving && !seen[res[i].Reference] {
			seen[res[i].Reference] = true
			refs = append(refs, res[i].Reference)
		}
	}
	sort.Strings(refs)

	results := make([]error, len(refs))
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = r.lookup(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]error, len(refs))
	for i, ref := range refs {
		out[ref] = results[i]
	}
	return out, nil
}

// errNotFound marks a lookup that completed and found nothing.
var errNotFound = errors.New("referenced resource does not exist")

// lookup runs one bounded lookup. A Lookup that ignores its context is
// abandoned at the timeout.
func (r *Resolver) lookup(ctx context.Context, ref string) error {
	if r.cfg.Lookup == nil {
		return ErrNoLookup
	}
	lctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("lookup panicked: %v", p)}
			}
		}()
		ok, err := r.cfg.Lookup.Exists(lctx, ref)
		done <- result{ok, err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil:
			r.cfg.Logger.Debug("lookup %s: %v", ref, res.err)
			return res.err
		case !res.ok:
			return errNotFound
		}
		return nil
	case <-lctx.Done():
		r.cfg.Logger.Debug("lookup %s: %v", ref, lctx.Err())
		return fmt.Errorf("lookup timed out after %s: %w", r.cfg.LookupTimeout, lctx.Err())
	}
}

func finding(res *Resolution, policy rc.ReferencePolicy) (rc.Finding, bool) {
	build := func(sev rc.Severity, code rc.Code, msg string) (rc.Finding, bool) {
		return rc.NewFinding(rc.SourceReference, sev, code).
			Message(msg).
			At(res.ResourceType, res.Path).
			Entry(res.Entry).
			Evidence(res.Reference).
			Build(), true
	}

	switch res.State {
	case UnresolvedMissing:
		if res.Kind == KindMalformed {
			return build(rc.SeverityError, rc.CodeInvalid, fmt.Sprintf("malformed reference %q", res.Reference))
		}
		return build(rc.SeverityError, rc.CodeNotFound, fmt.Sprintf("reference %q does not resolve to a bundle entry", res.Reference))
	case UnresolvedExternal:
		switch policy {
		case rc.InBundleOnly:
			return build(rc.SeverityError, rc.CodeBusinessRule, fmt.Sprintf("external reference %q is not allowed", res.Reference))
		case rc.AllowExternal:
			return build(rc.SeverityWarning, rc.CodeIncomplete, fmt.Sprintf("external reference %q was not checked", res.Reference))
		default:
			code := rc.CodeNotFound
			if errors.Is(res.Err, context.DeadlineExceeded) {
				code = rc.CodeTimeout
			}
			return build(rc.SeverityError, code, fmt.Sprintf("external reference %q could not be resolved: %v", res.Reference, res.Err))
		}
	}
	return rc.Finding{}, false
}

// typeMismatches reports in-bundle references whose Reference.type
// disagrees with the referenced resource.
func typeMismatches(b *bundle.Bundle, res []Resolution) []rc.Finding {
	types := make(map[int]string)
	for _, ent := range b.Entries() {
		if ent.Resource != nil {
			types[ent.Index] = ent.Resource.Type()
		}
	}

	var out []rc.Finding
	for i := range res {
		rs := &res[i]
		if rs.State != ResolvedInBundle || rs.Kind == KindLocal {
			continue
		}
		if rs.DeclaredType == "" || rs.DeclaredType == types[rs.Target] {
			continue
		}
		out = append(out, rc.NewFinding(rc.SourceReference, rc.SeverityError, rc.CodeInvalid).
			Message(fmt.Sprintf("reference type %s does not match target %s", rs.DeclaredType, types[rs.Target])).
			At(rs.ResourceType, rs.Path).
			Entry(rs.Entry).
			Evidence(rs.Reference).
			Build())
	}
	return out
}
