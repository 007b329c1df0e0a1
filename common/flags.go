package common

import "github.com/urfave/cli/v2"

var (
	LogJsonFlag = &cli.BoolFlag{
		Name:  "log-json",
		Usage: "log in JSON format",
		Value: false,
	}
	LogDebugFlag = &cli.BoolFlag{
		Name:  "log-debug",
		Usage: "log debug messages",
		Value: false,
	}
	LogUidFlag = &cli.BoolFlag{
		Name:  "log-uid",
		Usage: "add a unique request id to every log line for this process",
		Value: false,
	}
	PprofFlag = &cli.BoolFlag{
		Name:  "pprof",
		Usage: "enable pprof debug endpoint",
		Value: false,
	}
	DrainSecondsFlag = &cli.IntFlag{
		Name:  "drain-seconds",
		Usage: "seconds to wait after /drain before shutting down",
		Value: 5,
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address for the prometheus metrics listener",
		Value: "127.0.0.1:8090",
	}
)

// CommonFlags are the flags every binary in this module accepts.
var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
