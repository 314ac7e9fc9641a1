// Command tinykerneld boots the simulated kernel: it wires the scheduler,
// the PIT, the page allocator and filesystem, the process manager and the
// syscall dispatcher, spawns a seed program, and waits for it to exit.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/fdtable"
	"github.com/joeycumines/go-tinykernel/internal/klog"
	"github.com/joeycumines/go-tinykernel/internal/ksyscall"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/process"
	"github.com/joeycumines/go-tinykernel/internal/sched"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML boot configuration file")
		option     = flag.String("o", "", `kernel option, e.g. "mlfqs"`)
		quit       = flag.Bool("q", false, "halt immediately once the seed program exits")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *option == "mlfqs" {
		cfg.MLFQS = true
	}

	log := klog.New(klog.WithHandler(slog.NewTextHandler(os.Stderr, nil)))

	k := sched.New(sched.WithLogger(log))
	boot := k.Start("boot", kthread.PriDefault)

	pit := devices.New(cfg.Freq, k, devices.WithLogger(log))
	k.SetLoopsPerTick(devices.CalibrateBusyWait(pit.TickInterval(), devices.BusyLoop))
	go pit.Run()
	defer pit.Stop()

	fs := devices.NewMemFS()

	mgr := process.NewManager(k, fs, devices.NewPages(), process.WithLogger(log))
	halted := make(chan struct{})
	disp := ksyscall.NewDispatcher(mgr, fs, k, func() {
		log.Info().Log("halt requested")
		close(halted)
	})
	disp.Programs["greet"] = newGreetProgram(disp)

	child, err := disp.SpawnInitial(boot, "greet", "greet", "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "tinykerneld: spawn failed:", err)
		os.Exit(1)
	}

	status := mgr.Wait(boot, child.ID)
	log.Info().Tid(child.ID).Int("status", int(status)).Log("seed program reaped")

	if *quit {
		return
	}
	<-halted
}

// newGreetProgram returns the hosted stand-in for a compiled "hello,
// kernel" executable: it issues the same WRITE syscall a real one would,
// through the same trap-frame-and-dispatcher path every other process
// uses, rather than writing to the console directly.
func newGreetProgram(disp *ksyscall.Dispatcher) process.Program {
	return func(m *process.Manager, t *kthread.Thread) {
		space, ok := t.Space.(*vm.Space)
		if !ok {
			m.Exit(t, -1)
			return
		}

		const scratch = uint64(0x700000)
		if _, err := space.MapPage(scratch, true); err != nil {
			m.Exit(t, -1)
			return
		}

		msg := []byte("hello from the seed process\n")
		if err := space.WriteAt(scratch, msg); err != nil {
			m.Exit(t, -1)
			return
		}

		t.Frame.RDI = uint64(fdtable.Stdout)
		t.Frame.RSI = scratch
		t.Frame.RDX = uint64(len(msg))
		t.Frame.RAX = ksyscall.Write
		disp.Handle(t)
	}
}
