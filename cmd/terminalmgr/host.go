package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/relayhost/terminalmgr/internal/config"
	"github.com/relayhost/terminalmgr/internal/metrics"
	"github.com/relayhost/terminalmgr/internal/sshterm"
	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

type connectionFlags struct {
	configPath     string
	hostName       string
	password       string
	keyFile        string
	knownHostsPath string
}

// readPassword is swapped out in tests; production callers get
// term.ReadPassword, which reads from a terminal with echo disabled.
var readPassword = term.ReadPassword

// registerConnectionFlags attaches the flags every subcommand needs to
// locate a host's catalog and authenticate to it. requireHost is false only
// for `watch`, which polls every host in the catalog when --host is omitted.
func registerConnectionFlags(cmd *cobra.Command, requireHost bool) *connectionFlags {
	f := &connectionFlags{}
	cmd.Flags().StringVar(&f.configPath, "config", "terminalmgr.yaml", "catalog YAML file")
	cmd.Flags().StringVar(&f.hostName, "host", "", "host name within the catalog")
	cmd.Flags().StringVar(&f.password, "password", "", "SSH password")
	cmd.Flags().StringVar(&f.keyFile, "key-file", "", "SSH private key file")
	cmd.Flags().StringVar(&f.knownHostsPath, "known-hosts", "", "known_hosts file (default ~/.terminalmgr/known_hosts)")
	if requireHost {
		cmd.MarkFlagRequired("host")
	}
	return f
}

// loadHosts loads f.configPath and, if f.hostName is set, returns just that
// host; an empty hostName returns every host (used by `watch` to poll a
// whole catalog).
func loadHosts(f connectionFlags) ([]config.HostCollection, error) {
	hosts, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.hostName == "" {
		return hosts, nil
	}
	for i := range hosts {
		if hosts[i].Host.Name == f.hostName {
			return hosts[i : i+1], nil
		}
	}
	return nil, fmt.Errorf("host %q not found in %s", f.hostName, f.configPath)
}

// buildManager loads f.configPath, finds the named host, and returns a
// Manager wired to a real SSH Terminal for it. m may be nil.
func buildManager(f connectionFlags, m *metrics.Metrics) (*terminalmgr.Manager, error) {
	hosts, err := loadHosts(f)
	if err != nil {
		return nil, err
	}
	return buildManagerForHost(hosts[0], f, m)
}

// buildManagerForHost wires a single already-loaded HostCollection to a
// real SSH Terminal and a Manager; the credential flags in f apply to
// every host (a catalog-wide watch run against many hosts typically shares
// one key file or prompts once interactively).
func buildManagerForHost(hc config.HostCollection, f connectionFlags, m *metrics.Metrics) (*terminalmgr.Manager, error) {
	knownHostsPath := f.knownHostsPath
	if knownHostsPath == "" {
		home, _ := os.UserHomeDir()
		knownHostsPath = filepath.Join(home, ".terminalmgr", "known_hosts")
	}

	var opts []sshterm.Option
	switch {
	case f.keyFile != "":
		signer, err := loadSigner(f.keyFile)
		if err != nil {
			return nil, fmt.Errorf("load key file: %w", err)
		}
		opts = append(opts, sshterm.WithSigner(signer))
	case f.password != "":
		opts = append(opts, sshterm.WithPassword(f.password))
	default:
		password, err := promptPassword(hc.Host.Name)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		opts = append(opts, sshterm.WithPassword(password))
	}

	term, err := sshterm.New(hc.Host.Address, hc.Host.Port, hc.Host.User, knownHostsPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("build ssh terminal: %w", err)
	}

	mgrOpts := terminalmgr.DefaultOptions()
	mgrOpts.Name = hc.Host.Name
	mgrOpts.Collection = hc.Collection
	mgrOpts.AllowTurnOff = hc.Host.AllowTurnOff
	mgrOpts.DisconnectMode = hc.Host.DisconnectMode
	mgrOpts.MACAddress = hc.Host.MACAddress
	mgrOpts.Metrics = m
	if hc.Host.CommandTimeout > 0 {
		mgrOpts.CommandTimeout = hc.Host.CommandTimeout
	}
	if hc.Host.DisconnectModeDelay > 0 {
		mgrOpts.DisconnectModeDelay = hc.Host.DisconnectModeDelay
	}

	return terminalmgr.New(term, mgrOpts), nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

func promptPassword(hostName string) (string, error) {
	fmt.Printf("SSH password for %s: ", hostName)
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
