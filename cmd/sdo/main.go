// sdo is a command line SDO client and server.
//
//	sdo [flags] read <index> <subindex> [type]
//	sdo [flags] write <index> <subindex> <type> <value>
//	sdo [flags] info
//	sdo [flags] batch <plan.yaml>
//	sdo [flags] serve <file.eds>
//
// Flag defaults can be given in the environment or in a .env file, see
// [loadEnvironment].
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	canopen "github.com/samsamfire/gosdo"
	"github.com/samsamfire/gosdo/pkg/can"
	_ "github.com/samsamfire/gosdo/pkg/can/loopback"
	_ "github.com/samsamfire/gosdo/pkg/can/socketcan"
	_ "github.com/samsamfire/gosdo/pkg/can/virtual"
	"github.com/samsamfire/gosdo/pkg/config"
	"github.com/samsamfire/gosdo/pkg/sdo"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("invalid usage")

type options struct {
	canInterface string
	channel      string
	bitrate      int
	nodeId       uint8
	configPath   string
	block        bool
	timeout      time.Duration
	logFile      string
	verbose      bool
	noColor      bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		printError(err)
		os.Exit(1)
	}
}

func run(args []string) error {
	env := loadEnvironment()
	opts := options{}
	flagSet := pflag.NewFlagSet("sdo", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.canInterface, "interface", "i", env.canInterface, "can interface : "+fmt.Sprint(can.Interfaces()))
	flagSet.StringVarP(&opts.channel, "channel", "c", env.channel, "can channel e.g. can0, vcan0, localhost:18888")
	flagSet.IntVarP(&opts.bitrate, "bitrate", "b", env.bitrate, "can bitrate")
	flagSet.Uint8VarP(&opts.nodeId, "node", "n", env.nodeId, "server node id")
	flagSet.StringVar(&opts.configPath, "config", env.configPath, "sdo configuration file (ini)")
	flagSet.BoolVar(&opts.block, "block", false, "use block transfers")
	flagSet.DurationVarP(&opts.timeout, "timeout", "t", 5*time.Second, "timeout of a whole command, 0 waits forever")
	flagSet.StringVar(&opts.logFile, "log-file", env.logFile, "also write logs to this file (rotated)")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logs")
	flagSet.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return fmt.Errorf("%w : %v", errUsage, err)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	args = flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return errUsage
	}
	setColor(!opts.noColor)
	logger := newLogger(opts.logFile, opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, args := args[0], args[1:]
	switch command {
	case "read":
		return withClient(ctx, logger, opts, func(ctx context.Context, client *sdo.SDOClient) error {
			return runRead(ctx, client, opts.nodeId, args)
		})
	case "write":
		return withClient(ctx, logger, opts, func(ctx context.Context, client *sdo.SDOClient) error {
			return runWrite(ctx, client, opts.nodeId, args)
		})
	case "info":
		return withClient(ctx, logger, opts, func(ctx context.Context, client *sdo.SDOClient) error {
			return runInfo(ctx, client, opts.nodeId)
		})
	case "batch":
		return withClient(ctx, logger, opts, func(ctx context.Context, client *sdo.SDOClient) error {
			return runBatch(ctx, client, args)
		})
	case "serve":
		return runServe(ctx, logger, opts, args)
	}
	printHelp(flagSet)
	return fmt.Errorf("%w : unknown command %q", errUsage, command)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sdo reads and writes CANopen objects with SDO transfers, or serves
an object dictionary loaded from an EDS file.

Usage:
  sdo [flags] read <index> <subindex> [type]
  sdo [flags] write <index> <subindex> <type> <value>
  sdo [flags] info
  sdo [flags] batch <plan.yaml>
  sdo [flags] serve <file.eds>

Types: b, u8, u16, u32, u64, i8, i16, i32, i64, r32, r64, vs, os, d (hex)

Examples:
  sdo -i socketcan -c can0 -n 0x10 read 0x1018 1 u32
  sdo -n 0x10 --block write 0x2000 0 d 00112233445566778899
  sdo -n 0x10 serve node.eds

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// connect creates the bus and the bus manager dispatching its frames
func connect(opts options) (can.Bus, *canopen.BusManager, error) {
	bus, err := can.NewBus(opts.canInterface, opts.channel, opts.bitrate)
	if err != nil {
		return nil, nil, err
	}
	bm := canopen.NewBusManager(bus)
	if err := bus.Connect(opts.channel, opts.bitrate); err != nil {
		return nil, nil, err
	}
	if err := bus.Subscribe(bm); err != nil {
		bus.Disconnect()
		return nil, nil, err
	}
	return bus, bm, nil
}

// filter restricts reception to the identifiers in use, on buses that
// support it
func filter(bus can.Bus, bm *canopen.BusManager, logger *slog.Logger) {
	filterer, ok := bus.(can.Filterer)
	if !ok {
		return
	}
	if err := filterer.SetFilters(bm.Identifiers()); err != nil {
		logger.Warn("failed to set receive filters", "err", err)
	}
}

func loadSDOConfig(path string) (*config.SDOConfig, error) {
	if path == "" {
		return config.DefaultSDOConfig(), nil
	}
	return config.LoadSDOConfig(path)
}

func withClient(
	ctx context.Context,
	logger *slog.Logger,
	opts options,
	command func(ctx context.Context, client *sdo.SDOClient) error,
) error {
	cfg, err := loadSDOConfig(opts.configPath)
	if err != nil {
		return err
	}
	bus, bm, err := connect(opts)
	if err != nil {
		return err
	}
	defer bus.Disconnect()
	if opts.nodeId == 0 {
		opts.nodeId = cfg.ServerNodeId
	}
	client, err := sdo.NewSDOClient(bm, logger, nil, opts.nodeId)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := cfg.ApplyClient(client); err != nil {
		return err
	}
	if opts.block {
		client.SetBlockTransfer(true)
	}
	filter(bus, bm, logger)
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	return command(ctx, client)
}

// parseUint accepts decimal and 0x prefixed values
func parseUint(value string, bits int) (uint64, error) {
	parsed, err := strconv.ParseUint(value, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w : invalid value %q", errUsage, value)
	}
	return parsed, nil
}

func parseAddress(args []string) (uint16, uint8, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("%w : expecting <index> <subindex>", errUsage)
	}
	index, err := parseUint(args[0], 16)
	if err != nil {
		return 0, 0, err
	}
	subindex, err := parseUint(args[1], 8)
	if err != nil {
		return 0, 0, err
	}
	return uint16(index), uint8(subindex), nil
}
