package profile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

const (
	verdiBinary          = "verdi"
	archiveStoragePlugin = "core.sqlite_zip"
)

// VerdiStore implements Store using the verdi CLI.
type VerdiStore struct {
	binary string
	runner Runner
}

// NewVerdiStore creates a VerdiStore. A nil runner uses ExecRunner defaults.
func NewVerdiStore(runner Runner) *VerdiStore {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &VerdiStore{binary: verdiBinary, runner: runner}
}

func (v *VerdiStore) Exists(ctx context.Context, name string) (bool, error) {
	output, err := v.runner.Run(ctx, v.binary, "profile", "list")
	if err != nil {
		return false, fmt.Errorf("list profiles: %w", err)
	}
	for _, listed := range parseProfileList(output) {
		if listed == name {
			return true, nil
		}
	}
	return false, nil
}

func (v *VerdiStore) Create(ctx context.Context, name string, mode Mode, owner Owner) error {
	if err := mode.Validate(); err != nil {
		return err
	}
	owner = owner.WithDefaults()
	ownerFlags := []string{
		"--first-name", owner.FirstName,
		"--last-name", owner.LastName,
		"--email", owner.Email,
		"--institution", owner.Institution,
	}

	var args []string
	switch mode.Kind {
	case KindReadOnlyArchive:
		args = append([]string{"profile", "setup", archiveStoragePlugin,
			"--profile-name", name,
			"--filepath", mode.ArchivePath,
		}, ownerFlags...)
		args = append(args, "--non-interactive")
	case KindWritable:
		args = append([]string{"presto", "--profile-name", name}, ownerFlags...)
	}

	if _, err := v.runner.Run(ctx, v.binary, args...); err != nil {
		return err
	}
	return nil
}

func (v *VerdiStore) Delete(ctx context.Context, name string) error {
	exists, err := v.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if _, err := v.runner.Run(ctx, v.binary, "profile", "delete", "--force", name); err != nil {
		return fmt.Errorf("delete profile %q: %w", name, err)
	}
	return nil
}

// ModeOf reads the storage backend of an existing profile.
func (v *VerdiStore) ModeOf(ctx context.Context, name string) (Mode, error) {
	output, err := v.runner.Run(ctx, v.binary, "profile", "show", name)
	if err != nil {
		return Mode{}, fmt.Errorf("show profile %q: %w", name, err)
	}
	if bytes.Contains(output, []byte(archiveStoragePlugin)) {
		return Mode{Kind: KindReadOnlyArchive}, nil
	}
	return Writable(), nil
}

// parseProfileList extracts profile names from `verdi profile list` output.
// The default profile is prefixed with "*"; report lines are skipped.
func parseProfileList(output []byte) []string {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(strings.SplitN(line, " ", 2)[0], ":") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		if line == "" || strings.ContainsAny(line, " \t") {
			continue
		}
		names = append(names, line)
	}
	return names
}
