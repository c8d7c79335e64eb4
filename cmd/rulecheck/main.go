// Command rulecheck validates a rule set document and prints what each
// jurisdiction will evaluate. It exits non-zero when the document would be
// rejected by the server.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"attestor/internal/rules"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("rulecheck", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	maxDepth := fs.Int("max-depth", rules.DefaultMaxDepth, "deepest condition nesting accepted")
	quiet := fs.BoolP("quiet", "q", false, "only report problems")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: rulecheck [--max-depth N] [-q] <rules.yaml>")
		return 2
	}
	path := fs.Arg(0)

	rs, err := rules.LoadFile(path, rules.ValidationOptions{MaxDepth: *maxDepth})
	if err != nil {
		var invalid *rules.InvalidError
		if errors.As(err, &invalid) {
			fmt.Fprintf(stderr, "%s: %d problem(s)\n", path, len(invalid.Problems))
			for _, p := range invalid.Problems {
				fmt.Fprintf(stderr, "  %s\n", p)
			}
			return 1
		}
		fmt.Fprintf(stderr, "%s: %v\n", path, err)
		return 1
	}

	if *quiet {
		return 0
	}
	fmt.Fprintf(stdout, "%s: %d rule(s) across %s\n\n", path, rs.Len(), strings.Join(rs.Jurisdictions(), ", "))
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JURISDICTION\tRULE\tACTION\tDEPTH\tFACTS")
	for _, s := range rs.Summaries() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.Jurisdiction, s.Name, s.Action, s.Depth, strings.Join(s.Facts, ","))
	}
	_ = tw.Flush()
	return 0
}
