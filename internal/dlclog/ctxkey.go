// Package dlclog threads structured logging attributes through a
// context.Context instead of a *slog.Logger value, so call sites deep in
// the download pipeline (which only ever carry a context, not the
// manager's logger) can still tag their records with the pack/file they
// are working on.
package dlclog

import (
	"context"
	"log/slog"
	"slices"
)

// ctxKey is the unexported type for this package's context keys.
type ctxKey int

const (
	_ ctxKey = iota
	frameKey
	minLevelKey
)

// attrFrame is one link in a chain of attribute sets attached to a
// context. Each call to With/WithAttrs pushes a new frame rather than
// flattening into the parent's value, so a context can be extended
// repeatedly down a call chain without re-walking everything attached so
// far.
type attrFrame struct {
	parent *attrFrame
	attrs  []slog.Attr
}

// With returns a context carrying attrs built from alternating key/value
// arguments (or bare slog.Attr values), on top of whatever this context
// already carries.
func With(ctx context.Context, args ...any) context.Context {
	return WithAttrs(ctx, parseAttrs(args)...)
}

// WithAttrs returns a context carrying attrs on top of whatever this
// context already carries. A key repeated in a later call shadows the
// same key from an earlier one.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	parent, _ := ctx.Value(frameKey).(*attrFrame)
	return context.WithValue(ctx, frameKey, &attrFrame{parent: parent, attrs: attrs})
}

// WithLevel returns a context carrying a per-context minimum level a
// wrapped handler (see WrapHandler) should let through even if its own
// configured level would otherwise suppress it.
func WithLevel(ctx context.Context, l slog.Leveler) context.Context {
	return context.WithValue(ctx, minLevelKey, l)
}

// collectAttrs walks ctx's frame chain nearest-first and returns the
// deduplicated attribute set in attach order (oldest first), so a record
// reads the same way a logger built with repeated .With calls would.
func collectAttrs(ctx context.Context) []slog.Attr {
	frame, _ := ctx.Value(frameKey).(*attrFrame)
	if frame == nil {
		return nil
	}

	seen := make(map[string]bool)
	var nearestFirst []slog.Attr
	for f := frame; f != nil; f = f.parent {
		for i := len(f.attrs) - 1; i >= 0; i-- {
			a := f.attrs[i]
			if seen[a.Key] {
				continue
			}
			seen[a.Key] = true
			nearestFirst = append(nearestFirst, a)
		}
	}

	slices.Reverse(nearestFirst)
	return nearestFirst
}

// parseAttrs turns a logr-style argument list (alternating string keys
// and values, or bare slog.Attr values) into a slog.Attr slice.
func parseAttrs(args []any) []slog.Attr {
	const badKey = "!BADKEY"

	var attrs []slog.Attr
	for len(args) > 0 {
		switch v := args[0].(type) {
		case slog.Attr:
			attrs = append(attrs, v)
			args = args[1:]
		case string:
			if len(args) == 1 {
				attrs = append(attrs, slog.String(badKey, v))
				args = nil
				continue
			}
			attrs = append(attrs, slog.Any(v, args[1]))
			args = args[2:]
		default:
			attrs = append(attrs, slog.Any(badKey, v))
			args = args[1:]
		}
	}
	return attrs
}
