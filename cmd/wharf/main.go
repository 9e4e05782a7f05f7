// Command wharf is the CLI front-end for the wharfd container engine
// daemon: it translates subcommands into the daemon's loopback HTTP calls
// (spec §6's CLI surface table), grounded on the teacher's cmd/sand/main.go
// kong CLI struct.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"

	"github.com/wharfd/wharf/api"
	"github.com/wharfd/wharf/container"
	"github.com/wharfd/wharf/internal/ambient"
)

const description = `wharf manages a single-host container engine: a daemon that builds images
from recipes, stores them as layered filesystems, and runs isolated
processes from those images using kernel namespaces.`

// Context is handed to every subcommand's Run method, grounded on the
// teacher's Context{AppBaseDir, sber} pattern in cmd/sand/main.go.
type Context struct {
	Addr      string
	StateRoot string
	Client    *api.Client
}

// CLI is the root kong command tree (spec §6's CLI surface table, plus the
// `logs`/`exec`/`commit` additions from SPEC_FULL.md §C).
type CLI struct {
	Addr      string `default:"127.0.0.1:2375" help:"daemon bind address"`
	StateRoot string `default:"" env:"WHARF_STATE_ROOT" placeholder:"<dir>" help:"daemon state root (default: ~/.wharf)"`
	LogFile   string `default:"" placeholder:"<path>" help:"CLI log file (default: <state-root>/wharf-cli.log)"`
	LogLevel  string `default:"info" enum:"debug,info,warn,error" help:"CLI logging level"`

	Daemon  DaemonCmd  `cmd:"" help:"start the daemon if not already running; exit after readiness"`
	Build   BuildCmd   `cmd:"" help:"build an image from a recipe"`
	Run     RunCmd     `cmd:"" help:"create and start a container"`
	Images  ImagesCmd  `cmd:"" help:"list images"`
	Ps      PsCmd      `cmd:"" aliases:"containers" help:"list containers"`
	Stop    StopCmd    `cmd:"" help:"stop a container"`
	Rm      RmCmd      `cmd:"" help:"remove a container"`
	Rmi     RmiCmd     `cmd:"" help:"remove an image"`
	Logs    LogsCmd    `cmd:"" help:"print a container's logs"`
	Exec    ExecCmd    `cmd:"" help:"execute a command in a running container"`
	Commit  CommitCmd  `cmd:"" help:"commit a container's filesystem to a new image"`
	Version VersionCmd `cmd:"" help:"print version information"`
}

func main() {
	// Re-exec dispatch happens before any CLI parsing: these invocations are
	// never issued by a user, only by this binary spawning itself as a
	// namespace init process, an exec-into helper, or a detached daemon.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case container.ReexecInitArg:
			runNamespaceInit(os.Args[2:])
			return
		case container.ExecReexecArg:
			runNamespaceExec(os.Args[2:])
			return
		case daemonServeArg:
			runDaemonServe(os.Args[2:])
			return
		}
	}

	var cli CLI
	parser := kong.Must(&cli,
		kong.Configuration(kongyaml.Loader, "wharf.yaml", "~/.wharf.yaml"),
		kong.Description(description),
		kong.UsageOnError(),
	)
	kongcompletion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	stateRoot := cli.StateRoot
	if stateRoot == "" {
		stateRoot = defaultStateRoot()
	}
	logFile := cli.LogFile
	if logFile == "" {
		logFile = filepath.Join(stateRoot, "wharf-cli.log")
	}
	if _, err := ambient.InitSlog(ambient.LogConfig{
		FilePath:   logFile,
		Level:      cli.LogLevel,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
	}

	cctx := &Context{
		Addr:      cli.Addr,
		StateRoot: stateRoot,
		Client:    api.NewClient(cli.Addr),
	}
	err = kctx.Run(cctx)
	kctx.FatalIfErrorf(err)
}

func defaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".wharf")
	os.MkdirAll(dir, 0o750)
	return dir
}
