// euidctl validates, explains and composes entity identifiers offline.
//
//	euidctl validate [--json] [--prefix CODE=TYPE]... <euid>...
//	euidctl format <euid>
//	euidctl compose --type COMPANY --seq 12 [--access SECRET] [--jurisdiction US] [--status historical]
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"entityid/pkg/euid"
)

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder *exitError
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return usage()
	}
	switch args[0] {
	case "validate":
		return validate(args[1:], out)
	case "format":
		return format(args[1:], out)
	case "compose":
		return compose(args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	}
	return usage()
}

func usage() error {
	return &exitError{code: 2, err: errors.New("usage: euidctl validate|format|compose [flags] [args]")}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "usage:")
	fmt.Fprintln(out, "  euidctl validate [--json] [--prefix CODE=TYPE]... <euid>...")
	fmt.Fprintln(out, "  euidctl format [--prefix CODE=TYPE]... <euid>")
	fmt.Fprintln(out, "  euidctl compose --type TYPE --seq N [--access LEVEL] [--jurisdiction XX] [--status STATUS]")
}

// grammarFlag collects --prefix CODE=TYPE pairs into a grammar.
func grammarFlag(fs *pflag.FlagSet) func() (*euid.Grammar, error) {
	prefixes := fs.StringArray("prefix", nil, "custom prefix as CODE=TYPE (repeatable)")
	return func() (*euid.Grammar, error) {
		if len(*prefixes) == 0 {
			return euid.Default(), nil
		}
		custom := make(map[string]euid.EntityType, len(*prefixes))
		for _, p := range *prefixes {
			code, typ, ok := strings.Cut(p, "=")
			if !ok || code == "" || typ == "" {
				return nil, &exitError{code: 2, err: fmt.Errorf("--prefix %q: want CODE=TYPE", p)}
			}
			custom[strings.ToUpper(code)] = euid.EntityType(strings.ToUpper(typ))
		}
		g, err := euid.NewGrammar(custom)
		if err != nil {
			return nil, &exitError{code: 2, err: err}
		}
		return g, nil
	}
}

func validate(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print results as JSON lines")
	grammar := grammarFlag(fs)
	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, err: err}
	}
	if fs.NArg() == 0 {
		return &exitError{code: 2, err: errors.New("validate: at least one identifier required")}
	}
	g, err := grammar()
	if err != nil {
		return err
	}

	invalid := 0
	enc := json.NewEncoder(out)
	for _, id := range fs.Args() {
		res := g.Validate(id)
		if !res.Valid {
			invalid++
		}
		if *asJSON {
			if err := enc.Encode(struct {
				EUID string `json:"euid"`
				euid.Result
			}{id, res}); err != nil {
				return err
			}
			continue
		}
		if res.Valid {
			fmt.Fprintf(out, "%s\tvalid\n", id)
		} else {
			fmt.Fprintf(out, "%s\tinvalid\t%s\n", id, strings.Join(res.Errors, "; "))
		}
	}
	if invalid > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d identifiers invalid", invalid, fs.NArg())}
	}
	return nil
}

func format(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("format", pflag.ContinueOnError)
	grammar := grammarFlag(fs)
	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, err: err}
	}
	if fs.NArg() != 1 {
		return &exitError{code: 2, err: errors.New("format: exactly one identifier required")}
	}
	g, err := grammar()
	if err != nil {
		return err
	}
	res := g.Validate(fs.Arg(0))
	if !res.Valid {
		return &exitError{code: 1, err: fmt.Errorf("%s: %s", fs.Arg(0), strings.Join(res.Errors, "; "))}
	}

	p := *res.Parsed
	fmt.Fprintf(out, "%s\n", euid.Format(p))
	fmt.Fprintf(out, "identifier:   %s\n", p.String())
	fmt.Fprintf(out, "base:         %s\n", p.Base())
	fmt.Fprintf(out, "entity type:  %s (%s, code %s)\n", p.EntityType, p.EntityType.HumanName(), p.TypeCode)
	fmt.Fprintf(out, "sequence:     %d\n", p.Sequence)
	access := "public"
	if p.AccessLevel != euid.AccessPublic {
		access = strings.ToLower(string(p.AccessLevel))
	}
	fmt.Fprintf(out, "access:       %s\n", access)
	if p.Jurisdiction != "" {
		fmt.Fprintf(out, "jurisdiction: %s\n", p.Jurisdiction)
	}
	if len(p.Related) > 0 {
		fmt.Fprintf(out, "related:      %s\n", strings.Join(p.Related, ", "))
	}
	fmt.Fprintf(out, "status:       %s\n", p.Status)
	return nil
}

func compose(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("compose", pflag.ContinueOnError)
	typeName := fs.String("type", "", "entity type, e.g. COMPANY")
	seq := fs.Int("seq", 0, "sequence number")
	access := fs.String("access", "", "access level: INTERNAL, CONFIDENTIAL, RESTRICTED or SECRET")
	jurisdiction := fs.String("jurisdiction", "", "jurisdiction code (GOVERNMENT only)")
	status := fs.String("status", string(euid.StatusActive), "active, historical or retired")
	grammar := grammarFlag(fs)
	if err := fs.Parse(args); err != nil {
		return &exitError{code: 2, err: err}
	}
	g, err := grammar()
	if err != nil {
		return err
	}

	code, ok := g.CodeOf(euid.EntityType(strings.ToUpper(*typeName)))
	if !ok {
		return &exitError{code: 1, err: fmt.Errorf("unknown entity type %q", *typeName)}
	}
	level := euid.AccessLevel(strings.ToUpper(*access))
	if !level.Valid() {
		return &exitError{code: 1, err: fmt.Errorf("unknown access level %q", *access)}
	}
	st := euid.Status(strings.ToLower(*status))
	if !st.Valid() {
		return &exitError{code: 1, err: fmt.Errorf("unknown status %q", *status)}
	}
	id, err := g.Compose(code, *seq, level, strings.ToUpper(*jurisdiction))
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	fmt.Fprintln(out, euid.WithStatus(id, st))
	return nil
}
