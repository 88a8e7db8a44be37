//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// errSecItemNotFound is the exit status security(1) uses for a missing item.
const errSecItemNotFound = 44

func security(args ...string) ([]byte, error) {
	out, err := exec.Command("security", args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, fmt.Errorf("security %s: exit %d: %s", args[0], exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}

func keychainGet(service, account string) ([]byte, error) {
	out, err := security("find-generic-password", "-s", service, "-a", account, "-w")
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(string(out), "\n")), nil
}

// keychainSet stores value, or removes the item when value is empty.
func keychainSet(service, account, value string) error {
	if value == "" {
		err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound {
			return nil
		}
		return err
	}
	_, err := security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	return err
}
