package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Strob0t/VPNForge/internal/middleware"
)

// minAPIKeyLen is the shortest API key hash-key accepts.
const minAPIKeyLen = 16

// runAdmin dispatches admin subcommands. None of them needs a database.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey()
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprint(os.Stderr, `Usage: vpnforge admin <command>

Commands:
  hash-key   Read an API key and print its bcrypt hash
  help       Show this help message

Examples:
  vpnforge admin hash-key
  echo -n "$KEY" | vpnforge admin hash-key
`)
}

func runAdminHashKey() error {
	key, err := readKey()
	if err != nil {
		return err
	}
	if len(key) < minAPIKeyLen {
		return fmt.Errorf("api key must be at least %d characters", minAPIKeyLen)
	}
	hash, err := middleware.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	return nil
}

// readKey prompts twice on a terminal, otherwise reads the first line of stdin.
func readKey() (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	key, err := promptSecret(fd, "API key: ")
	if err != nil {
		return "", err
	}
	confirm, err := promptSecret(fd, "Confirm API key: ")
	if err != nil {
		return "", err
	}
	if key != confirm {
		return "", errors.New("keys do not match")
	}
	return key, nil
}

func promptSecret(fd int, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read key: %w", err)
	}
	return string(b), nil
}
