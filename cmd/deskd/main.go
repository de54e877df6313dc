package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/daemon"
	"github.com/matheus3301/desk/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "operator profile (overrides $DESK_PROFILE and config default)")
	connect := flag.Bool("connect", false, "connect the push transport at startup even if auto_connect is off")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Connect: *connect}),
		// fx lifecycle chatter goes to the daemon log at debug level.
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			zl := &fxevent.ZapLogger{Logger: l}
			zl.UseLogLevel(zap.DebugLevel)
			return zl
		}),
	)
	app.Run()
}
