// Package install puts the recorder under systemd management. It renders
// the unit file, writes it to the system unit directory, and drives
// systemctl to enable and start the service.
package install

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"text/template"
)

// ServiceName is the systemd unit the installer manages.
const ServiceName = "protorec.service"

const unitTemplate = `[Unit]
Description=ProtoRec prototype recorder
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
ExecStart={{.BinaryPath}} serve --config {{.ConfigPath}} --recdir {{.RecordingsDir}} --addr {{.Addr}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// Options carries everything the unit file needs.
type Options struct {
	// User is the account the service runs as
	User string
	// BinaryPath is the absolute path of the recorder binary
	BinaryPath string
	// ConfigPath is passed to the serve command as --config
	ConfigPath string
	// RecordingsDir is passed to the serve command as --recdir
	RecordingsDir string
	// Addr is the listen address passed as --addr
	Addr string
}

func (o Options) validate() error {
	switch {
	case o.User == "":
		return errors.New("install: service user is required")
	case o.BinaryPath == "":
		return errors.New("install: binary path is required")
	case o.ConfigPath == "":
		return errors.New("install: config path is required")
	case o.RecordingsDir == "":
		return errors.New("install: recordings directory is required")
	case o.Addr == "":
		return errors.New("install: listen address is required")
	}
	return nil
}

// Render produces the systemd unit file contents.
func Render(opts Options) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tmpl, err := template.New(ServiceName).Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("install: parse unit template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("install: render unit: %w", err)
	}
	return buf.Bytes(), nil
}

// RunFunc executes an external command and waits for it to finish.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Installer writes the unit file and drives systemctl.
type Installer struct {
	// UnitDir is where the unit file is written
	UnitDir string
	// Run executes systemctl
	Run RunFunc
	// Out receives progress messages
	Out io.Writer
}

// New returns an installer targeting the host's systemd.
func New() *Installer {
	return &Installer{
		UnitDir: "/etc/systemd/system",
		Run:     runCmd,
		Out:     os.Stdout,
	}
}

// Install renders the unit, writes it, then reloads systemd and enables
// and (re)starts the service.
func (in *Installer) Install(ctx context.Context, opts Options) error {
	unit, err := Render(opts)
	if err != nil {
		return err
	}

	unitPath := filepath.Join(in.UnitDir, ServiceName)
	if err := os.WriteFile(unitPath, unit, 0o644); err != nil {
		return fmt.Errorf("install: write %s: %w", unitPath, err)
	}
	fmt.Fprintf(in.Out, "Service file written to %s\n", unitPath)

	steps := [][]string{
		{"daemon-reload"},
		{"enable", ServiceName},
		{"restart", ServiceName},
	}
	for _, args := range steps {
		if err := in.Run(ctx, "systemctl", args...); err != nil {
			return fmt.Errorf("install: systemctl %s: %w", args[0], err)
		}
	}

	fmt.Fprintf(in.Out, "%s has been installed, enabled and (re)started\n", ServiceName)
	fmt.Fprintln(in.Out, "To check status, run: sudo systemctl status protorec")
	fmt.Fprintln(in.Out, "To check logs, run: sudo journalctl -u protorec -f")
	return nil
}

func runCmd(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// RequireRoot rejects invocations that lack the privileges to write unit
// files and drive systemctl.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return errors.New("install: must be run as root (sudo)")
	}
	return nil
}

// ResolveUser returns the account the service should run as. Under sudo
// the invoking user is preferred over root.
func ResolveUser() (string, error) {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("install: resolve current user: %w", err)
	}
	return u.Username, nil
}

// UserHome resolves the home directory of the named account.
func UserHome(name string) (string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return "", fmt.Errorf("install: lookup user %s: %w", name, err)
	}
	return u.HomeDir, nil
}
