// Command pasteopen decrypts a container stored by the encrypted upload
// route and writes the original content to stdout.
//
//	PASTEBIN_SECRET=... pasteopen ./upload/aB3x > content
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"pastebin/internal/container"

	"github.com/charmbracelet/log"
)

// Run opens the container at the single positional argument and copies the
// plaintext to stdout.
func Run(args []string, getenv func(string) string, stdout io.Writer) error {
	fs := flag.NewFlagSet("pasteopen", flag.ContinueOnError)
	secretFile := fs.String("secret-file", getenv("PASTEBIN_SECRET_FILE"), "file containing the deployment secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return errors.New("usage: pasteopen [-secret-file FILE] CONTAINER")
	}

	secret := container.Secret(getenv("PASTEBIN_SECRET"))
	if *secretFile != "" {
		data, err := os.ReadFile(*secretFile)
		if err != nil {
			return fmt.Errorf("failed to read secret file: %w", err)
		}
		secret = container.Secret(strings.TrimSpace(string(data)))
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read container: %w", err)
	}

	raw, err := container.Open(data, secret)
	if err != nil {
		return err
	}

	_, err = stdout.Write(raw)
	return err
}

func main() {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:  log.InfoLevel,
		Prefix: "pasteopen",
	})
	slog.SetDefault(slog.New(handler))

	if err := Run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, container.ErrBadSecretOrCorrupt) {
			slog.Error("Cannot open container, wrong secret or damaged file", "file", strings.Join(os.Args[1:], " "))
		} else {
			slog.Error("pasteopen failed", "error", err)
		}
		os.Exit(1)
	}
}
