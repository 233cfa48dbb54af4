package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readSecret reads a line without echo when stdin is a terminal. envKey, if
// set in the environment, short-circuits the prompt.
func readSecret(prompt, envKey string) ([]byte, error) {
	if envKey != "" {
		if v := os.Getenv(envKey); v != "" {
			return []byte(v), nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read %s: %w", strings.ToLower(prompt), err)
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// readPassphrase asks for the passphrase of the owner keystore
func readPassphrase() ([]byte, error) {
	return readSecret("Passphrase", "VAULTLINK_PASSPHRASE")
}

// newPassphrase asks twice and requires both entries to match
func newPassphrase() ([]byte, error) {
	if v := os.Getenv("VAULTLINK_PASSPHRASE"); v != "" {
		return []byte(v), nil
	}
	first, err := readSecret("New passphrase", "")
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	again, err := readSecret("Repeat passphrase", "")
	if err != nil {
		return nil, err
	}
	if string(first) != string(again) {
		return nil, fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

// confirmOnTerminal shows the message a wallet is about to sign and asks
// for approval
func confirmOnTerminal(ctx context.Context, message []byte) (bool, error) {
	fmt.Fprintf(os.Stderr, "\nSign this message?\n\n%s\n\n[y/N]: ", message)
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.TrimSpace(strings.ToLower(line))
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-answer:
		return a == "y" || a == "yes", nil
	}
}
