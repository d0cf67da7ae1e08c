package structural

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/bundle"
	"github.com/gofhir/rulecheck/pkg/reference"
)

// BundleType is the Bundle.type code.
type BundleType string

const (
	BundleTypeDocument            BundleType = "document"
	BundleTypeMessage             BundleType = "message"
	BundleTypeTransaction         BundleType = "transaction"
	BundleTypeTransactionResponse BundleType = "transaction-response"
	BundleTypeBatch               BundleType = "batch"
	BundleTypeBatchResponse       BundleType = "batch-response"
	BundleTypeHistory             BundleType = "history"
	BundleTypeSearchset           BundleType = "searchset"
	BundleTypeCollection          BundleType = "collection"
)

var bundleTypes = map[BundleType]bool{
	BundleTypeDocument: true, BundleTypeMessage: true,
	BundleTypeTransaction: true, BundleTypeTransactionResponse: true,
	BundleTypeBatch: true, BundleTypeBatchResponse: true,
	BundleTypeHistory: true, BundleTypeSearchset: true, BundleTypeCollection: true,
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)

// Basic checks the Bundle envelope: the type code and its entry
// requirements, resource id format, fullUrl uniqueness and fullUrl/id
// agreement.
type Basic struct{}

// NewBasic returns the envelope validator.
func NewBasic() Basic {
	return Basic{}
}

// Validate implements Validator.
func (Basic) Validate(ctx context.Context, b *bundle.Bundle) ([]rc.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, _ := b.Root()["entry"].([]any)

	var out []rc.Finding
	bt := BundleType(b.Type())
	switch {
	case bt == "":
		out = append(out, issue(rc.SeverityError, rc.CodeRequired, "Bundle", "Bundle.type", "Bundle.type is required").Build())
	case !bundleTypes[bt]:
		out = append(out, issue(rc.SeverityError, rc.CodeCodeInvalid, "Bundle", "Bundle.type",
			fmt.Sprintf("unknown Bundle.type %q", bt)).Evidence(string(bt)).Build())
	default:
		out = append(out, checkType(bt, raw)...)
	}

	out = append(out, checkFullURLs(raw)...)
	for _, ent := range b.Entries() {
		out = append(out, checkEntry(ent)...)
	}
	return out, nil
}

func checkType(bt BundleType, entries []any) []rc.Finding {
	switch bt {
	case BundleTypeDocument:
		return checkFirst(entries, "Composition", "document", true)
	case BundleTypeMessage:
		return checkFirst(entries, "MessageHeader", "message", false)
	case BundleTypeTransaction, BundleTypeBatch:
		return checkRequests(entries, bt)
	case BundleTypeHistory:
		var out []rc.Finding
		for i, e := range entries {
			m, _ := e.(map[string]any)
			_, req := m["request"]
			_, resp := m["response"]
			if !req && !resp {
				out = append(out, issue(rc.SeverityWarning, rc.CodeStructure, "Bundle", fmt.Sprintf("Bundle.entry[%d]", i),
					"history entries should have a request or response").Entry(i).Build())
			}
		}
		return out
	}
	return nil
}

// checkFirst requires the first entry of a document or message to be of
// resource type want.
func checkFirst(entries []any, want, kind string, fullURLs bool) []rc.Finding {
	if len(entries) == 0 {
		return []rc.Finding{issue(rc.SeverityError, rc.CodeRequired, "Bundle", "Bundle.entry",
			fmt.Sprintf("a %s Bundle must have at least one entry", kind)).Build()}
	}

	var out []rc.Finding
	first, _ := entries[0].(map[string]any)
	res, _ := first["resource"].(map[string]any)
	if rt, _ := res["resourceType"].(string); rt != want {
		out = append(out, issue(rc.SeverityError, rc.CodeStructure, "Bundle", "Bundle.entry[0].resource",
			fmt.Sprintf("the first entry of a %s Bundle must be a %s, found %q", kind, want, rt)).Entry(0).Build())
	}
	if fullURLs {
		for i, e := range entries {
			m, _ := e.(map[string]any)
			if s, _ := m["fullUrl"].(string); s == "" {
				out = append(out, issue(rc.SeverityWarning, rc.CodeRequired, "Bundle", fmt.Sprintf("Bundle.entry[%d].fullUrl", i),
					fmt.Sprintf("%s Bundle entries should have a fullUrl", kind)).Entry(i).Build())
			}
		}
	}
	return out
}

func checkRequests(entries []any, bt BundleType) []rc.Finding {
	var out []rc.Finding
	for i, e := range entries {
		m, _ := e.(map[string]any)
		at := fmt.Sprintf("Bundle.entry[%d]", i)
		req, ok := m["request"].(map[string]any)
		if !ok {
			out = append(out, issue(rc.SeverityError, rc.CodeRequired, "Bundle", at+".request",
				fmt.Sprintf("%s entries must have a request", bt)).Entry(i).Build())
			continue
		}
		method, _ := req["method"].(string)
		if method == "" {
			out = append(out, issue(rc.SeverityError, rc.CodeRequired, "Bundle", at+".request.method",
				"request.method is required").Entry(i).Build())
		}
		if url, _ := req["url"].(string); url == "" {
			out = append(out, issue(rc.SeverityError, rc.CodeRequired, "Bundle", at+".request.url",
				"request.url is required").Entry(i).Build())
		}

		_, hasResource := m["resource"]
		switch strings.ToUpper(method) {
		case "POST", "PUT", "PATCH":
			if !hasResource {
				out = append(out, issue(rc.SeverityError, rc.CodeRequired, "Bundle", at+".resource",
					fmt.Sprintf("%s requests must have a resource", strings.ToUpper(method))).Entry(i).Build())
			}
		case "GET", "HEAD", "DELETE":
			if hasResource {
				out = append(out, issue(rc.SeverityWarning, rc.CodeStructure, "Bundle", at+".resource",
					fmt.Sprintf("%s requests should not have a resource", strings.ToUpper(method))).Entry(i).Build())
			}
		}
	}
	return out
}

// checkFullURLs reports repeated fullUrls. Repeated urn: fullUrls are
// warnings, other repeats errors.
func checkFullURLs(entries []any) []rc.Finding {
	var out []rc.Finding
	seen := make(map[string]int)
	for i, e := range entries {
		m, _ := e.(map[string]any)
		u, _ := m["fullUrl"].(string)
		if u == "" {
			continue
		}
		if prev, dup := seen[u]; dup {
			sev := rc.SeverityError
			if strings.HasPrefix(u, "urn:") {
				sev = rc.SeverityWarning
			}
			out = append(out, issue(sev, rc.CodeBusinessRule, "Bundle", fmt.Sprintf("Bundle.entry[%d].fullUrl", i),
				fmt.Sprintf("fullUrl %q is duplicated (first seen at entry[%d])", u, prev)).Entry(i).Evidence(u).Build())
			continue
		}
		seen[u] = i
	}
	return out
}

func checkEntry(ent bundle.Entry) []rc.Finding {
	if ent.Resource == nil {
		return nil
	}
	rt := ent.Resource.Type()
	var out []rc.Finding

	id, hasID := ent.Resource["id"]
	if hasID {
		s, ok := id.(string)
		if !ok || !idPattern.MatchString(s) {
			out = append(out, issue(rc.SeverityError, rc.CodeValue, rt, rt+".id",
				fmt.Sprintf("invalid resource id %v", id)).Entry(ent.Index).Evidence(fmt.Sprint(id)).Build())
		}
	}

	if want := reference.IDFromFullURL(ent.FullURL); want != "" {
		if s, _ := id.(string); s != "" && s != want {
			out = append(out, issue(rc.SeverityError, rc.CodeInvalid, "Bundle", fmt.Sprintf("Bundle.entry[%d].fullUrl", ent.Index),
				fmt.Sprintf("fullUrl %q disagrees with resource id %q", ent.FullURL, s)).Entry(ent.Index).Evidence(ent.FullURL).Build())
		}
	}
	return out
}
