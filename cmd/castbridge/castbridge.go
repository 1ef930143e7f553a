package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"go2tv.app/castbridge/castadapter"
	"go2tv.app/castbridge/castview"
	"go2tv.app/castbridge/devices"
	"go2tv.app/castbridge/events"
	"go2tv.app/castbridge/gui"
)

var (
	//go:embed version.txt
	version   string
	errNoflag = errors.New("no flag used")

	targetPtr  = flag.String("t", "", "Cast to a specific device URL (http://host:port).")
	appPtr     = flag.String("app", castadapter.DefaultReceiverAppID, "Receiver application ID to launch.")
	nsPtr      = flag.String("ns", "", "Message namespace. Defaults to "+castadapter.DefaultNamespace+".")
	sendPtr    = flag.String("send", "", "JSON payload to send once a session starts. (Triggers the CLI mode)")
	configPtr  = flag.String("config", "", "Path to a JSON config file.")
	listPtr    = flag.Bool("l", false, "List all available cast devices.")
	interPtr   = flag.Bool("i", false, "Start the interactive terminal UI.")
	guiPtr     = flag.Bool("g", false, "Start the desktop GUI.")
	debugPtr   = flag.Bool("debug", false, "Log debug output to stderr.")
	versionPtr = flag.Bool("version", false, "Print version.")

	ErrNoCombi    = errors.New("can't combine -l with other flags")
	ErrFailtoList = errors.New("failed to list devices")
)

const (
	listDiscoverTimeout = 3 * time.Second
	sessionStartTimeout = 30 * time.Second
)

type flagResults struct {
	cfg  castadapter.Config
	exit bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errNoflag) {
			flag.Usage()
			os.Exit(0)
		}

		fmt.Fprintf(os.Stderr, "Encountered error(s): %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	exitCTX, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flag.Parse()

	flagRes, err := processflags()
	if err != nil {
		return err
	}

	if flagRes.exit {
		return nil
	}

	if *guiPtr {
		scr := gui.NewScreen(flagRes.cfg, version)
		scr.Start()
		return nil
	}

	var opts []castadapter.Option
	if *debugPtr {
		opts = append(opts, castadapter.WithLogOutput(os.Stderr))
	}

	mgr, err := castadapter.NewManager(flagRes.cfg, opts...)
	if err != nil {
		return err
	}
	defer mgr.Destroy()

	if *interPtr {
		model := castview.New(mgr)
		_, err := tea.NewProgram(model).Run()
		return err
	}

	return runOnce(exitCTX, mgr)
}

// runOnce is the plain CLI mode: bring the adapter up, start a
// session, deliver the payload and keep relaying inbound messages
// until interrupted.
func runOnce(ctx context.Context, mgr *castadapter.Manager) error {
	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	started := make(chan castadapter.SessionEvent, 1)
	sessListener := events.NewListener(func(payload any) {
		ev := payload.(castadapter.SessionEvent)
		if ev.State.Active() || ev.State == castadapter.SessionStartFailed {
			select {
			case started <- ev:
			default:
			}
		}
	})
	mgr.OnSessionEvent(sessListener)
	defer mgr.OffSessionEvent(sessListener)

	msgListener := events.NewListener(func(payload any) {
		ev := payload.(castadapter.MessageEvent)
		out, _ := json.Marshal(ev.Payload)
		fmt.Printf("[%s] %s\n", ev.Namespace, out)
	})
	mgr.OnMessageEvent(msgListener)
	defer mgr.OffMessageEvent(msgListener)

	if !mgr.SessionActive() {
		if err := mgr.RequestSession(); err != nil {
			return err
		}

		select {
		case ev := <-started:
			if ev.State == castadapter.SessionStartFailed {
				return errors.New("receiver application failed to start")
			}
		case <-time.After(sessionStartTimeout):
			return errors.New("timed out waiting for the session to start")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if *sendPtr != "" {
		var payload any
		// Validated in processflags, cannot fail here.
		_ = json.Unmarshal([]byte(*sendPtr), &payload)
		if err := mgr.SendMessage(payload); err != nil {
			return err
		}
	}

	<-ctx.Done()

	if mgr.SessionActive() {
		_ = mgr.EndSession()
	}

	return nil
}

func listFlagFunction() error {
	flagsEnabled := 0
	flag.Visit(func(*flag.Flag) {
		flagsEnabled++
	})

	if flagsEnabled > 1 {
		return ErrNoCombi
	}

	deviceList, err := devices.Discover(listDiscoverTimeout)
	if err != nil {
		return ErrFailtoList
	}

	sort.Slice(deviceList, func(i, j int) bool {
		return deviceList[i].Name < deviceList[j].Name
	})

	fmt.Println()

	for q, dev := range deviceList {
		boldStart := ""
		boldEnd := ""

		if runtime.GOOS == "linux" {
			boldStart = "\033[1m"
			boldEnd = "\033[0m"
		}
		kind := "Cast device"
		if dev.IsAudioOnly {
			kind = "Cast device (audio only)"
		}
		fmt.Printf("%sDevice %v%s\n", boldStart, q+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sName:%s %s\n", boldStart, boldEnd, dev.Name)
		fmt.Printf("%sType:%s %s\n", boldStart, boldEnd, kind)
		fmt.Printf("%sURL:%s  %s\n", boldStart, boldEnd, dev.Addr)
		fmt.Println()
	}

	return nil
}

func processflags() (*flagResults, error) {
	res := &flagResults{}

	if checkVerflag() {
		res.exit = true
		return res, nil
	}

	list, err := checkLflag()
	if err != nil {
		return nil, fmt.Errorf("checkflags error: %w", err)
	}

	if list {
		res.exit = true
		return res, nil
	}

	if flag.NFlag() == 0 {
		return nil, fmt.Errorf("checkflags error: %w", errNoflag)
	}

	if err := checkConfigflag(res); err != nil {
		return nil, fmt.Errorf("checkflags error: %w", err)
	}

	if err := checkSendflag(); err != nil {
		return nil, fmt.Errorf("checkflags error: %w", err)
	}

	// GUI mode discovers its own device; every other mode needs one
	// up front.
	if !*guiPtr {
		if err := checkTflag(res); err != nil {
			return nil, fmt.Errorf("checkflags error: %w", err)
		}
	}

	return res, nil
}

func checkConfigflag(res *flagResults) error {
	if *configPtr != "" {
		cfg, err := castadapter.LoadConfig(*configPtr)
		if err != nil {
			return err
		}
		res.cfg = cfg
	}

	// Flags override the config file. Detect an explicitly passed
	// -app rather than comparing values, so passing the default ID
	// still wins over the file.
	if res.cfg.ReceiverAppID == "" || flagPassed("app") {
		res.cfg.ReceiverAppID = *appPtr
	}
	if *nsPtr != "" {
		res.cfg.Namespace = *nsPtr
	}

	return nil
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

func checkSendflag() error {
	if *sendPtr == "" {
		return nil
	}

	var payload any
	if err := json.Unmarshal([]byte(*sendPtr), &payload); err != nil {
		return fmt.Errorf("checkSendflag parse error: %w", err)
	}

	return nil
}

func checkTflag(res *flagResults) error {
	if *targetPtr != "" {
		// Validate URL before proceeding.
		_, err := url.ParseRequestURI(*targetPtr)
		if err != nil {
			return fmt.Errorf("checkTflag parse error: %w", err)
		}

		res.cfg.DeviceAddr = *targetPtr
		return nil
	}

	deviceList, err := devices.Discover(listDiscoverTimeout)
	if err != nil {
		return fmt.Errorf("checkTflag discovery error: %w", err)
	}

	dev, err := devices.DevicePicker(deviceList, 1)
	if err != nil {
		return fmt.Errorf("checkTflag device picker error: %w", err)
	}

	res.cfg.DeviceAddr = dev.Addr
	return nil
}

func checkLflag() (bool, error) {
	if *listPtr {
		if err := listFlagFunction(); err != nil {
			return false, fmt.Errorf("checkLflag error: %w", err)
		}
		return true, nil
	}

	return false, nil
}

func checkVerflag() bool {
	if *versionPtr && os.Args[1] == "-version" {
		fmt.Printf("castbridge Version: %s\n", version)
		return true
	}
	return false
}
