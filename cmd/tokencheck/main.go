// Command tokencheck verifies a credential offline using only published
// public keys, the way a relying party would.
//
//	tokencheck --keys trusted_keys.yaml <token>
//	echo "$TOKEN" | tokencheck --keys trusted_keys.yaml
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"attestor/internal/credential"
)

type report struct {
	Valid     bool               `json:"valid"`
	Failure   credential.Failure `json:"failure,omitempty"`
	Algorithm string             `json:"algorithm,omitempty"`
	KeyID     string             `json:"key_id,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Claims    *credential.Claims `json:"claims,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, time.Now))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, now func() time.Time) int {
	fs := pflag.NewFlagSet("tokencheck", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	keysPath := fs.String("keys", "", "trusted public keys document (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keysPath == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: tokencheck --keys <trusted_keys.yaml> [token]")
		return 2
	}

	token := fs.Arg(0)
	if token == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintf(stderr, "read token: %v\n", err)
			return 2
		}
		token = line
	}
	token = strings.TrimSpace(token)

	keys, err := credential.LoadTrustedKeys(*keysPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}
	ring := credential.NewKeyRing()
	if err := ring.AddTrusted(keys); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	res := credential.NewChecker(ring, credential.WithCheckerClock(now)).Verify(token)
	out := report{
		Valid:     res.Valid,
		Failure:   res.Failure,
		Algorithm: res.Algorithm,
		KeyID:     res.KeyID,
		Claims:    res.Claims,
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt.UTC()
		out.ExpiresAt = &exp
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if !res.Valid {
		return 1
	}
	return 0
}
