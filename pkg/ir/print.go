package ir

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a textual listing of f to w.
func Fprint(w io.Writer, f *Function) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("%s %s", p, p.Type)
	}
	fmt.Fprintf(w, "func %s(%s):\n", f.Name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		preds := make([]string, len(b.Preds))
		for i, p := range b.Preds {
			preds[i] = p.String()
		}
		fmt.Fprintf(w, "%s:", b)
		if len(preds) > 0 {
			fmt.Fprintf(w, " ; preds: %s", strings.Join(preds, " "))
		}
		fmt.Fprintln(w)
		for _, v := range b.Values {
			fmt.Fprintf(w, "  %s\n", v.LongString())
		}
		fmt.Fprintf(w, "  %s\n", b.Term.format(b))
	}
}

func (t Terminator) format(b *Block) string {
	succs := make([]string, len(b.Succs))
	for i, s := range b.Succs {
		succs[i] = s.String()
	}
	switch t.Kind {
	case TermReturn, TermUnreachable, TermNone:
		return t.Kind.String()
	case TermJump:
		return fmt.Sprintf("jump %s", strings.Join(succs, " "))
	case TermSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch %s default %s", t.Cond, succs[0])
		for i, c := range t.Cases {
			fmt.Fprintf(&sb, ", %d: %s", c, succs[i+1])
		}
		return sb.String()
	default:
		return fmt.Sprintf("%s %s -> %s", t.Kind, t.Cond, strings.Join(succs, " "))
	}
}

// String returns the listing of f.
func (f *Function) String() string {
	var sb strings.Builder
	Fprint(&sb, f)
	return sb.String()
}
