// passctl issues and verifies ticket passes offline, without the issuer
// or gate servers.
//
// Usage:
//
//	passctl keygen  [--dir DIR]
//	passctl issue   --descriptor FILE --secret SECRET [--qr OUT.png] [--barcode OUT.png]
//	passctl verify  --secret SECRET [--envelope JSON | -]
//	passctl barcode --secret SECRET [--png OUT.png]
//	passctl watch   --ticket ID [--authority URL]
//
// Signing and key-derivation secrets default to SIGNING_SECRET and
// KEY_DERIVATION_SECRET.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

var errUsage = errors.New("usage: passctl keygen|issue|verify|barcode|watch [flags]")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout)
	case "issue":
		return runIssue(args[1:], stdout)
	case "verify":
		return runVerify(args[1:], stdin, stdout)
	case "barcode":
		return runBarcode(args[1:], stdout)
	case "watch":
		return runWatch(args[1:], stdout)
	case "-h", "--help", "help":
		fmt.Fprintln(stdout, errUsage.Error())
		return nil
	}
	return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
}
