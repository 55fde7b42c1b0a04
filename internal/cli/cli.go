// Package cli is the drawerctl command tree. Every command runs the drawer
// engine in-process, the same way drawer-hal does.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"drawer-hal/internal/config"
	"drawer-hal/internal/diagnostics"
	"drawer-hal/internal/drawer"
)

// CLI is the root command structure for drawerctl.
type CLI struct {
	Debug   bool   `help:"Log engine activity to stderr" env:"DRAWER_DEBUG"`
	EnvFile string `name:"env-file" help:"Optional .env file" default:".env" type:"path"`
	LogDir  string `name:"log-dir" help:"Override the diagnostics directory" env:"DRAWER_LOG_DIR"`
	JSON    bool   `help:"Print machine-readable JSON"`

	Open  OpenCmd  `cmd:"" help:"Open the cash drawer"`
	Ports PortsCmd `cmd:"" help:"List serial ports"`
	Scan  ScanCmd  `cmd:"" help:"Scan the local network for receipt printers"`
	Logs  LogsCmd  `cmd:"" help:"Show today's drawer diagnostics"`

	// Out receives command output; stdout when nil.
	Out io.Writer `kong:"-"`
	// Options are appended to the engine options; tests use them to
	// replace the host serial and network access.
	Options []drawer.Option `kong:"-"`

	styles Styles `kong:"-"`
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// runtime is what one command invocation needs.
type runtime struct {
	engine *drawer.Engine
	sink   *diagnostics.Sink
	log    *zap.SugaredLogger
}

func (r *runtime) close() {
	r.sink.Close()
	r.log.Sync()
}

func (c *CLI) setup() (*runtime, error) {
	c.styles = DefaultStyles()

	cfg, err := config.Load(c.EnvFile)
	if err != nil {
		return nil, err
	}
	if c.LogDir != "" {
		cfg.LogDir = c.LogDir
	}

	log := zap.NewNop().Sugar()
	if c.Debug {
		if log, err = config.NewLogger(true); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	prefs, err := config.LoadPreferences(cfg.PreferencesFile)
	if err != nil {
		return nil, err
	}
	sink, err := diagnostics.NewSink(cfg.LogDir, diagnostics.WithLogger(log))
	if err != nil {
		return nil, err
	}

	opts := append(cfg.EngineOptions(prefs), c.Options...)
	return &runtime{engine: drawer.New(sink, opts...), sink: sink, log: log}, nil
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(c.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) field(label string, value any) {
	fmt.Fprintln(c.out(), c.styles.Label.Render(label)+c.styles.Value.Render(fmt.Sprint(value)))
}

// --- Open ---

// ErrOpenFailed is returned when the drawer did not open; the result has
// already been printed.
var ErrOpenFailed = errors.New("cash drawer did not open")

type OpenCmd struct {
	IP      string `name:"ip" help:"Printer IP address"`
	Port    int    `help:"Printer TCP port (default 9100)"`
	Network string `help:"Network mode: true, false or auto"`
	Device  string `help:"Serial device path, e.g. /dev/ttyUSB0 or COM3"`
}

func (o *OpenCmd) request() (drawer.Request, error) {
	mode, err := drawer.ParseNetworkMode(strings.ToLower(o.Network))
	if err != nil {
		return drawer.Request{}, err
	}
	return drawer.Request{
		IPAddress: o.IP,
		Port:      o.Port,
		Mode:      mode,
		PortPath:  o.Device,
	}, nil
}

func (o *OpenCmd) Run(ctx context.Context, globals *CLI) error {
	req, err := o.request()
	if err != nil {
		return err
	}
	rt, err := globals.setup()
	if err != nil {
		return err
	}
	defer rt.close()

	res := rt.engine.Open(ctx, req)
	if globals.JSON {
		if err := globals.printJSON(res); err != nil {
			return err
		}
	} else {
		globals.printResult(res)
	}
	if !res.Success {
		return ErrOpenFailed
	}
	return nil
}

func (c *CLI) printResult(res drawer.Result) {
	s := c.styles
	if res.Success {
		fmt.Fprintln(c.out(), s.Success.Render("Drawer opened"))
	} else {
		fmt.Fprintln(c.out(), s.Error.Render("Drawer not opened"))
	}
	c.field("Transport", res.Type)
	if res.Address != "" {
		c.field("Address", res.Address)
	}
	if res.Port != "" {
		c.field("Port", res.Port)
	}
	if res.BaudRate != 0 {
		c.field("Baud rate", res.BaudRate)
	}
	if res.CommandUsed != 0 {
		c.field("Command", res.CommandUsed)
	}
	c.field("Message", res.Message)
	c.field("Log file", res.LogFile)
}

// --- Ports ---

type PortsCmd struct{}

func (p *PortsCmd) Run(globals *CLI) error {
	rt, err := globals.setup()
	if err != nil {
		return err
	}
	defer rt.close()

	list := rt.engine.ListSerialPorts()
	if globals.JSON {
		return globals.printJSON(list)
	}

	s := globals.styles
	if !list.Available {
		fmt.Fprintln(globals.out(), s.Error.Render("Serial access not available: "+list.Error))
		return nil
	}
	if len(list.Ports) == 0 {
		fmt.Fprintln(globals.out(), s.Muted.Render("No serial ports found"))
		return nil
	}
	fmt.Fprintln(globals.out(), s.Title.Render(fmt.Sprintf("%d serial port(s)", len(list.Ports))))
	for _, port := range list.Ports {
		detail := port.Manufacturer
		if port.IsUSB {
			detail = strings.TrimSpace(fmt.Sprintf("%s %s:%s %s", detail, port.VendorID, port.ProductID, port.Product))
		}
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintln(globals.out(), s.Label.Render(port.Path)+s.Muted.Render(detail))
	}
	return nil
}

// --- Scan ---

type ScanCmd struct{}

func (sc *ScanCmd) Run(ctx context.Context, globals *CLI) error {
	rt, err := globals.setup()
	if err != nil {
		return err
	}
	defer rt.close()

	res := rt.engine.Scan(ctx)
	if globals.JSON {
		return globals.printJSON(res)
	}

	s := globals.styles
	fmt.Fprintln(globals.out(), s.Title.Render(
		fmt.Sprintf("%d responsive of %d candidate address(es)", len(res.Devices), res.Candidates)))
	for _, d := range res.Devices {
		fmt.Fprintln(globals.out(), s.Value.Render(d.String()))
	}
	return nil
}

// --- Logs ---

type LogsCmd struct {
	Lines int `short:"n" help:"Number of lines" default:"50"`
}

func (l *LogsCmd) Run(globals *CLI) error {
	rt, err := globals.setup()
	if err != nil {
		return err
	}
	defer rt.close()

	lines, err := rt.sink.Tail(l.Lines)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", rt.sink.Path(), err)
	}
	if globals.JSON {
		return globals.printJSON(map[string]any{
			"file":  rt.sink.Path(),
			"lines": lines,
			"count": len(lines),
		})
	}
	fmt.Fprintln(globals.out(), globals.styles.Muted.Render(rt.sink.Path()+" ("+strconv.Itoa(len(lines))+" lines)"))
	for _, line := range lines {
		fmt.Fprintln(globals.out(), line)
	}
	return nil
}
