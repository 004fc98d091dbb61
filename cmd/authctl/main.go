// Command authctl performs operator tasks against the configured store:
// provisioning users, rotating passwords, revoking sessions and running a
// sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"gatehouse.dev/internal/app"
	"gatehouse.dev/internal/config"
)

const usage = `usage: authctl [--config file] <command> [flags]

commands:
  create-user      --email --first-name [--last-name] [--phone] --role --password
  set-password     --email --password
  revoke-sessions  --email
  sweep
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := pflag.NewFlagSet("authctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "", "path to a YAML config file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	log := app.NewLogger(os.Stderr, cfg)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	return dispatch(ctx, a, cmd, rest, out)
}

func dispatch(ctx context.Context, a *app.App, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "create-user":
		return createUser(ctx, a, args, out)
	case "set-password":
		return setPassword(ctx, a, args, out)
	case "revoke-sessions":
		return revokeSessions(ctx, a, args, out)
	case "sweep":
		return sweep(ctx, a, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// requireFlags reports the first empty required flag.
func requireFlags(fs *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		if v, _ := fs.GetString(name); v == "" {
			return fmt.Errorf("%s: --%s is required", fs.Name(), name)
		}
	}
	return nil
}
