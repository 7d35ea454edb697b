// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// ncconfd is a daemon that manages run-time configuration validated
// against a schema, exposing get/edit/commit/lock/confirmed-commit
// operations over a JSON-RPC-over-socket transport.
//
// Grounded on cmd/configd/main.go's shape (SIGUSR1 profile toggle,
// pidfile handling, systemd-activation-or-unix-socket listener
// acquisition) reworked onto a cobra+viper flag surface so every
// option can also come from -config-file or a repeated
// -option key=value; flags take precedence over the config file, and
// -option values take precedence over both.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/common"
	"github.com/coreconf/ncconfd/confirm"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/server"
	"github.com/coreconf/ncconfd/startup"
	"github.com/coreconf/ncconfd/storage"
	"github.com/coreconf/ncconfd/tree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks an error that should exit(2) rather than exit(1),
// per spec.md §6's exit code table.
type usageError struct{ error }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ncconfd",
		Short:         "ncconfd manages run-time configuration backed by a candidate/running datastore model",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	flags := cmd.Flags()
	flags.Int("debug-level", 0, "logging verbosity (0=none, 1=error, 2=debug)")
	flags.String("config-file", "", "read options from the named YAML/JSON/TOML config file")
	flags.String("log-destination", "e", "where to send logs: s=syslog, e=stderr, o=stdout, f<path>=file")
	flags.String("plugin-dir", "", "directory of commit/RPC plugins to load")
	flags.StringArray("yang-dir", nil, "directory to load schema modules from (repeatable)")
	flags.String("datastore-dir", "/var/lib/ncconfd", "directory the persistent datastores live under")
	flags.Bool("foreground", false, "do not daemonize; run attached to the controlling terminal")
	flags.Bool("zap", false, "terminate the daemon instance named by -pid-file, then exit")
	flags.String("socket-family", "unix", "transport for the management socket: unix|ipv4|ipv6")
	flags.String("socket-address", "/run/ncconfd/main.sock", "path (unix) or address:port (ipv4/ipv6) to listen on")
	flags.String("pid-file", "/run/ncconfd/ncconfd.pid", "write the daemon pid to this file")
	flags.Bool("run-once", false, "run startup to completion and exit instead of serving")
	flags.String("startup-mode", "startup", "initial running-config source: none|init|running|startup")
	flags.String("extra-xml", "", "XML file merged onto candidate after a successful startup commit")
	flags.String("socket-group", "", "group allowed to connect to the management socket")
	flags.String("yang-main-file", "", "top-level schema module name")
	flags.String("storage-plugin", "file", "persistence backend: file|bbolt")
	flags.StringArray("option", nil, "set an arbitrary key=value option, highest precedence")

	for _, name := range []string{
		"debug-level", "config-file", "log-destination", "plugin-dir", "datastore-dir",
		"foreground", "zap", "socket-family", "socket-address", "pid-file", "run-once",
		"startup-mode", "extra-xml", "socket-group", "yang-main-file", "storage-plugin",
	} {
		v.BindPFlag(name, flags.Lookup(name))
	}
	v.BindPFlag("yang-dir", flags.Lookup("yang-dir"))
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if cf, _ := cmd.Flags().GetString("config-file"); cf != "" {
		v.SetConfigFile(cf)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config-file: %w", err)
		}
	}
	for _, kv := range mustStringArray(cmd, "option") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return usageError{fmt.Errorf("-option expects key=value, got %q", kv)}
		}
		v.Set(parts[0], parts[1])
	}

	cfg := &ncconfd.Config{
		DatastoreDir:   v.GetString("datastore-dir"),
		PidFile:        v.GetString("pid-file"),
		YangDirs:       v.GetStringSlice("yang-dir"),
		YangMainFile:   v.GetString("yang-main-file"),
		PluginDir:      v.GetString("plugin-dir"),
		SocketFamily:   v.GetString("socket-family"),
		SocketAddress:  v.GetString("socket-address"),
		SocketGroup:    v.GetString("socket-group"),
		StorageBackend: v.GetString("storage-plugin"),
		StartupMode:    v.GetString("startup-mode"),
		ExtraXMLFile:   v.GetString("extra-xml"),
		Foreground:     v.GetBool("foreground"),
		RunOnce:        v.GetBool("run-once"),
		DebugLevel:     v.GetInt("debug-level"),
		LogDestination: v.GetString("log-destination"),
	}

	if v.GetBool("zap") {
		return zapRunning(cfg.PidFile)
	}

	dlog, elog, wlog, err := buildLoggers(cfg)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	go sigProfileToggle(elog)

	if err := os.MkdirAll(filepath.Dir(cfg.PidFile), 0755); err != nil {
		return fmt.Errorf("pid-file directory: %w", err)
	}
	if err := os.MkdirAll(cfg.DatastoreDir, 0750); err != nil {
		return fmt.Errorf("datastore-dir: %w", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}

	oracle := schema.NewStatic()
	bus := plugin.NewBus()
	reg := datastore.New(backend, schema.Resolver(oracle))
	defer reg.Close()
	for _, ds := range []rpc.Datastore{rpc.Candidate, rpc.Running, rpc.Startup, rpc.Failsafe} {
		if err := reg.Load(ds); err != nil {
			return fmt.Errorf("load %s datastore: %w", ds, err)
		}
	}

	eng := commit.New(reg, bus, oracle)
	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	eng.SetMetrics(metrics)

	confirmJob := filepath.Join(cfg.DatastoreDir, "confirmed_commit.job")
	confirmCtl := confirm.New(confirmJob, func(snapshot []byte) error {
		restored, err := tree.Parse(snapshot)
		if err != nil {
			return fmt.Errorf("confirmed-commit rollback: %w", err)
		}
		if _, err := reg.Put(rpc.Candidate, "", restored); err != nil {
			return fmt.Errorf("confirmed-commit rollback: stage candidate: %w", err)
		}
		wlog.Printf("COMMIT_NOT_CONFIRMED: confirm timeout/cancel reached, reverting running to the pre-commit snapshot")
		if _, err := eng.Commit(context.Background(), commit.ModeSet, ""); err != nil {
			if ferr := reg.CopyConfig(rpc.Running, "", rpc.Failsafe, ""); ferr != nil {
				return fmt.Errorf("confirmed-commit rollback: commit failed (%v) and failsafe recovery failed: %w", err, ferr)
			}
			wlog.Printf("ROLLBACK_FAILSAFE_APPLIED: confirmed-commit rollback commit failed (%v), restored the failsafe datastore into running", err)
		}
		return nil
	})

	moduleStatePath := filepath.Join(cfg.DatastoreDir, "module_state.yaml")
	sc := startup.New(reg, eng, oracle, bus, cfg.ExtraXMLFile, moduleStatePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := sc.Run(ctx, cfg.StartupMode)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if result.UsedFailsafe {
		wlog.Printf("startup: %s, fell back to the failsafe datastore", result.Outcome)
	} else {
		dlog.Printf("startup: %s", result.Outcome)
	}

	if cfg.RunOnce {
		return nil
	}

	l, err := server.Listen(cfg.SocketFamily, cfg.SocketAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if cfg.SocketFamily == "" || cfg.SocketFamily == "unix" {
		applySocketPerms(cfg.SocketAddress, cfg.SocketGroup, elog)
	}

	srv := server.NewSrv(l, server.Deps{
		Registry: reg, Bus: bus, Engine: eng, Confirm: confirmCtl, Oracle: oracle,
		Metrics: metrics, Config: cfg, RunningUID: uint32(os.Getuid()),
		Dlog: dlog, Elog: elog, Wlog: wlog,
	})

	if err := writePid(cfg.PidFile); err != nil {
		return fmt.Errorf("pid-file: %w", err)
	}
	defer os.Remove(cfg.PidFile)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				wlog.Printf("SIGHUP received; config-file reload is not implemented, ignoring")
			default:
				wlog.Printf("%s received, shutting down", sig)
				srv.Shutdown()
				if cfg.SocketFamily == "" || cfg.SocketFamily == "unix" {
					os.Remove(cfg.SocketAddress)
				}
				<-errCh
				return nil
			}
		case err := <-errCh:
			if err != nil {
				elog.Printf("serve: %v", err)
				return err
			}
			return nil
		}
	}
}

func mustStringArray(cmd *cobra.Command, name string) []string {
	vals, _ := cmd.Flags().GetStringArray(name)
	return vals
}

func newBackend(cfg *ncconfd.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "", "file":
		return storage.NewFileBackend(cfg.DatastoreDir)
	case "bbolt", "bolt":
		return storage.NewBoltBackend(filepath.Join(cfg.DatastoreDir, "ncconfd.db"))
	default:
		return nil, fmt.Errorf("unknown storage-plugin %q", cfg.StorageBackend)
	}
}

func buildLoggers(cfg *ncconfd.Config) (dlog, elog, wlog *log.Logger, err error) {
	dest, err := common.Destination(cfg.LogDestination)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.LogDestination == "s" {
		elog, err = common.NewLogger(syslog.LOG_ERR|syslog.LOG_DAEMON, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		dlog, _ = common.NewLogger(syslog.LOG_DEBUG|syslog.LOG_DAEMON, 0)
		wlog, _ = common.NewLogger(syslog.LOG_WARNING|syslog.LOG_DAEMON, 0)
		return dlog, elog, wlog, nil
	}
	elog = log.New(dest, "ncconfd[error] ", log.LstdFlags)
	wlog = log.New(dest, "ncconfd[warn] ", log.LstdFlags)
	if cfg.DebugLevel >= 2 {
		dlog = log.New(dest, "ncconfd[debug] ", log.LstdFlags)
	} else {
		dlog = log.New(io.Discard, "", 0)
	}
	return dlog, elog, wlog, nil
}

var runningProfile bool

// sigProfileToggle mirrors the teacher's SIGUSR1 CPU-profile toggle:
// the first signal starts recording to /tmp/ncconfd.pprof, the next
// one stops and flushes it.
func sigProfileToggle(elog *log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	var f *os.File
	for range sigCh {
		if !runningProfile {
			var err error
			f, err = os.Create("/tmp/ncconfd.pprof")
			if err != nil {
				elog.Printf("cpu profile: %v", err)
				continue
			}
			pprof.StartCPUProfile(f)
			runningProfile = true
		} else {
			pprof.StopCPUProfile()
			f.Close()
			runningProfile = false
		}
	}
}

func writePid(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

// zapRunning implements -zap: read the pid from path, send SIGTERM,
// and wait briefly for the process to go away. There is no teacher
// equivalent; configd is always stopped by its service manager.
func zapRunning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("zap: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("zap: malformed pid file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("zap: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("zap: %w", err)
	}
	for i := 0; i < 50; i++ {
		if proc.Signal(syscall.Signal(0)) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func applySocketPerms(path, group string, elog *log.Logger) {
	if err := os.Chmod(path, 0660); err != nil {
		elog.Printf("chmod %s: %v", path, err)
		return
	}
	if group == "" {
		return
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		elog.Printf("socket-group %q: %v", group, err)
		return
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		elog.Printf("socket-group %q: %v", group, err)
		return
	}
	if err := os.Chown(path, -1, gid); err != nil {
		elog.Printf("chown %s: %v", path, err)
	}
}
