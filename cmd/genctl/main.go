// Command genctl talks to TDK-Lambda Genesys supplies from the shell:
// single commands, an interactive prompt, a status summary and a
// simulator-backed demo mode for trying things without hardware.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/powerbench/genesys"
	"github.com/powerbench/genesys/gensim"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file (flags override it)")
	device := flag.String("device", "", "serial device path, e.g. /dev/ttyUSB0")
	baud := flag.Int("baud", 9600, "baud rate (1200, 2400, 4800, 9600, 19200)")
	address := flag.Int("address", 6, "unit address on the bus (0-30)")
	timeout := flag.Duration("timeout", genesys.DefaultReplyTimeout, "reply timeout per exchange")
	cmd := flag.String("cmd", "", "single command to send, e.g. 'MV?'; if empty, enter interactive mode")
	status := flag.Bool("status", false, "print a status summary for the addressed unit and exit")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	demo := flag.Bool("demo", false, "run against a simulated GEN40-38 instead of real hardware")
	logFile := flag.String("log-file", "", "also log to this file (rotated)")
	verbose := flag.Bool("v", false, "debug logging")

	flag.Parse()

	log := buildLogger(*logFile, *verbose)

	if *listPorts {
		ports, err := genesys.AvailablePorts()
		if err != nil {
			log.Fatal().Err(err).Msg("listing ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := genesys.Config{
		PortName:     *device,
		BaudRate:     genesys.BaudRate(*baud),
		ReplyTimeout: *timeout,
		Logger:       log,
	}
	if *configFile != "" {
		if err := applyConfigFile(*configFile, &cfg, address); err != nil {
			log.Fatal().Err(err).Msg("loading config")
		}
	}

	ch, cleanup, err := openChannel(cfg, *demo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("opening channel")
	}
	defer cleanup()

	addr := genesys.Address(*address)
	ctx := context.Background()

	if *status {
		printStatus(ctx, ch, addr, log)
		return
	}

	if *cmd != "" {
		resp, err := ch.Exec(ctx, addr, *cmd, "")
		if err != nil {
			log.Fatal().Err(err).Msg("exec")
		}
		printResponse(resp)
		return
	}

	interactive(ctx, ch, addr, log)
}

// buildLogger wires a console logger, optionally teed into a rotated file.
func buildLogger(logFile string, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	var out io.Writer = console
	if logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = zerolog.MultiLevelWriter(console, rotated)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// applyConfigFile fills unset channel settings from a YAML file.
func applyConfigFile(path string, cfg *genesys.Config, address *int) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GENCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	if cfg.PortName == "" {
		cfg.PortName = v.GetString("port")
	}
	if v.IsSet("baud") {
		cfg.BaudRate = genesys.BaudRate(v.GetInt("baud"))
	}
	if v.IsSet("replyTimeout") {
		cfg.ReplyTimeout = v.GetDuration("replyTimeout")
	}
	if v.IsSet("settleDelay") {
		cfg.SettleDelay = v.GetDuration("settleDelay")
	}
	if v.IsSet("address") {
		*address = v.GetInt("address")
	}
	return nil
}

// openChannel opens hardware or, in demo mode, a simulated bus carrying
// one GEN40-38 at every address the caller might pick.
func openChannel(cfg genesys.Config, demo bool, log zerolog.Logger) (*genesys.Channel, func(), error) {
	if demo {
		bus := gensim.NewBus()
		for a := 0; a <= 30; a++ {
			if _, err := bus.AddModel(a, "GEN40-38"); err != nil {
				return nil, nil, err
			}
		}
		log.Info().Msg("demo mode: simulated GEN40-38 units at addresses 0-30")
		ch := genesys.NewChannel(bus, cfg)
		return ch, func() { _ = ch.Close() }, nil
	}

	ch, err := genesys.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return ch, func() { _ = ch.Close() }, nil
}

func printStatus(ctx context.Context, ch *genesys.Channel, addr genesys.Address, log zerolog.Logger) {
	supply, err := genesys.NewSupply(ctx, ch, addr)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to supply")
	}

	readings, err := supply.GetReadings(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("reading DVC?")
	}
	mode, err := supply.GetOperationMode(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("reading MODE?")
	}

	id := supply.Identity()
	fmt.Printf("unit %d: %s (%.0fV/%.0fA)\n", addr.Int(), id.Model, id.Voltage, id.Current)
	fmt.Printf("  mode:      %s\n", mode)
	fmt.Printf("  voltage:   %.3f V programmed, %.3f V measured\n", readings.ProgrammedVoltage, readings.MeasuredVoltage)
	fmt.Printf("  current:   %.3f A programmed, %.3f A measured\n", readings.ProgrammedCurrent, readings.MeasuredCurrent)
	fmt.Printf("  limits:    OVP %.3f V, UVL %.3f V\n", readings.OverVoltage, readings.UnderVoltage)
}

func interactive(ctx context.Context, ch *genesys.Channel, addr genesys.Address, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintf(os.Stderr, "Talking to unit %d. Type commands (e.g. MV?), Ctrl+D to exit.\n", addr.Int())
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Error().Err(err).Msg("stdin")
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		mnemonic, arg, _ := strings.Cut(line, " ")
		resp, err := ch.Exec(ctx, addr, mnemonic, arg)
		if err != nil {
			var perr *genesys.ProtocolError
			if errors.As(err, &perr) {
				fmt.Fprintf(os.Stderr, "device: %v\n", perr)
				continue
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResponse(resp)
	}
}

func printResponse(resp genesys.Response) {
	if resp.Kind == genesys.KindOK {
		fmt.Println("OK")
		return
	}
	fmt.Println(resp.Payload)
}
