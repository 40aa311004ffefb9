// Package resolver rewrites schema documents so that every $ref is replaced
// by its target, entirely from the local index when possible.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
)

// Fetcher retrieves a genuinely external schema document. Invoked at most
// once per id; the result is stored in the index so later resolutions stay
// local.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (schemadoc.Document, error)
}

// UnresolvableReferenceError reports a reference that could not be
// satisfied locally or remotely. Chain is the traversal path that led to
// the reference, outermost first.
type UnresolvableReferenceError struct {
	Ref   string
	From  schemadoc.ID
	Chain []schemadoc.ID
	Err   error
}

func (e *UnresolvableReferenceError) Error() string {
	chain := make([]string, len(e.Chain))
	for i, id := range e.Chain {
		chain[i] = string(id)
	}
	return fmt.Sprintf("unresolvable reference %q from %q (chain %s): %v",
		e.Ref, e.From, strings.Join(chain, " -> "), e.Err)
}

func (e *UnresolvableReferenceError) Unwrap() error { return e.Err }

// Resolver walks schema trees against an index. Safe for concurrent use;
// each Resolve call keeps its own traversal state.
type Resolver struct {
	index   *uriindex.Index
	fetcher Fetcher

	fetchMu  sync.Mutex
	fetching map[schemadoc.ID]bool
}

func New(index *uriindex.Index, fetcher Fetcher) *Resolver {
	return &Resolver{index: index, fetcher: fetcher, fetching: make(map[schemadoc.ID]bool)}
}

type traversal struct {
	inProgress map[schemadoc.ID]bool
	chain      []schemadoc.ID
}

func (t *traversal) push(id schemadoc.ID) {
	t.inProgress[id] = true
	t.chain = append(t.chain, id)
}

func (t *traversal) pop(id schemadoc.ID) {
	delete(t.inProgress, id)
	t.chain = t.chain[:len(t.chain)-1]
}

// Resolve dereferences the document stored under id. The result is a deep
// copy; the index is never mutated except to admit fetched documents.
func (r *Resolver) Resolve(ctx context.Context, id schemadoc.ID) (schemadoc.Document, error) {
	base, fragment := uriindex.Split(id)
	doc, err := r.index.Get(base)
	if err != nil {
		return nil, err
	}
	var root any = doc
	if fragment != "" {
		root, err = schemadoc.EvalPointer(doc, fragment)
		if err != nil {
			return nil, &UnresolvableReferenceError{Ref: string(id), From: id, Err: err}
		}
	}
	t := &traversal{inProgress: make(map[schemadoc.ID]bool)}
	t.push(id)
	out, err := r.resolveValue(ctx, t, base, root)
	if err != nil {
		return nil, err
	}
	resolved, ok := schemadoc.AsDocument(out)
	if !ok {
		return nil, fmt.Errorf("schema %q resolved to a non-object", id)
	}
	return resolved, nil
}

func (r *Resolver) resolveValue(ctx context.Context, t *traversal, base schemadoc.ID, v any) (any, error) {
	switch val := v.(type) {
	case schemadoc.Document, map[string]any:
		doc, _ := schemadoc.AsDocument(val)
		if ref, ok := doc[schemadoc.KeywordRef].(string); ok {
			return r.resolveRef(ctx, t, base, ref)
		}
		out := make(schemadoc.Document, len(doc))
		for k, e := range doc {
			re, err := r.resolveValue(ctx, t, base, e)
			if err != nil {
				return nil, err
			}
			out[k] = re
		}
		mergeComposites(out)
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			re, err := r.resolveValue(ctx, t, base, e)
			if err != nil {
				return nil, err
			}
			out[i] = re
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveRef(ctx context.Context, t *traversal, base schemadoc.ID, ref string) (any, error) {
	target, err := uriindex.Normalize(ref, base)
	if err != nil {
		return nil, &UnresolvableReferenceError{Ref: ref, From: base, Chain: t.chain, Err: err}
	}
	if t.inProgress[target] {
		// Inlining would recurse forever; leave an id-tagged boundary
		// for the binding generator to chase on first use.
		return schemadoc.NewLazyRef(target), nil
	}

	targetBase, fragment := uriindex.Split(target)
	doc, err := r.index.Get(targetBase)
	if err != nil {
		doc, err = r.fetchOnce(ctx, targetBase)
		if err != nil {
			return nil, &UnresolvableReferenceError{Ref: ref, From: base, Chain: t.chain, Err: err}
		}
	}

	var node any = doc
	if fragment != "" {
		node, err = schemadoc.EvalPointer(doc, fragment)
		if err != nil {
			return nil, &UnresolvableReferenceError{Ref: ref, From: base, Chain: t.chain, Err: err}
		}
	}

	t.push(target)
	defer t.pop(target)
	return r.resolveValue(ctx, t, targetBase, node)
}

// fetchOnce hands an unknown absolute http(s) id to the fetch collaborator.
// Successful fetches land in the index; failures do not poison anything, a
// later resolve may try again.
func (r *Resolver) fetchOnce(ctx context.Context, id schemadoc.ID) (schemadoc.Document, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("schema not in index and no fetcher configured")
	}
	if !strings.HasPrefix(string(id), "http://") && !strings.HasPrefix(string(id), "https://") {
		return nil, fmt.Errorf("schema not in index and %q is not fetchable", id)
	}

	r.fetchMu.Lock()
	if r.fetching[id] {
		// Another traversal on this goroutine path is mid-fetch; the
		// registry's per-key guard keeps cross-goroutine duplicates out.
		r.fetchMu.Unlock()
		return nil, fmt.Errorf("fetch of %q already in progress", id)
	}
	r.fetching[id] = true
	r.fetchMu.Unlock()
	defer func() {
		r.fetchMu.Lock()
		delete(r.fetching, id)
		r.fetchMu.Unlock()
	}()

	if doc, err := r.index.Get(id); err == nil {
		return doc, nil
	}

	slog.Info("fetching external schema", "id", string(id))
	doc, err := r.fetcher.Fetch(ctx, string(id))
	if err != nil {
		return nil, err
	}
	r.index.Put(id, doc)
	return doc, nil
}

// mergeComposites hoists properties from allOf/oneOf/anyOf branches so the
// generated type sees a field from any branch. Deliberately non-strict:
// conflicting type declarations keep the first one encountered.
func mergeComposites(doc schemadoc.Document) {
	for _, kw := range []string{schemadoc.KeywordAllOf, schemadoc.KeywordOneOf, schemadoc.KeywordAnyOf} {
		branches, ok := doc[kw].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			branch, ok := schemadoc.AsDocument(b)
			if !ok {
				continue
			}
			mergeBranch(doc, branch)
		}
	}
}

func mergeBranch(doc, branch schemadoc.Document) {
	if t, ok := branch[schemadoc.KeywordType]; ok {
		if _, has := doc[schemadoc.KeywordType]; !has {
			doc[schemadoc.KeywordType] = t
		}
	}
	if props, ok := schemadoc.AsDocument(branch[schemadoc.KeywordProperties]); ok {
		own, has := schemadoc.AsDocument(doc[schemadoc.KeywordProperties])
		if !has {
			own = make(schemadoc.Document, len(props))
			doc[schemadoc.KeywordProperties] = own
		}
		for k, v := range props {
			if _, exists := own[k]; !exists {
				own[k] = v
			}
		}
	}
	if req, ok := branch[schemadoc.KeywordRequired].([]any); ok {
		own, _ := doc[schemadoc.KeywordRequired].([]any)
		seen := make(map[string]bool, len(own))
		for _, k := range own {
			if s, ok := k.(string); ok {
				seen[s] = true
			}
		}
		for _, k := range req {
			if s, ok := k.(string); ok && !seen[s] {
				own = append(own, s)
				seen[s] = true
			}
		}
		doc[schemadoc.KeywordRequired] = own
	}
}
