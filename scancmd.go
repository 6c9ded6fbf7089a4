package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/shirou/gopsutil/v3/process"

	"sigdetour/internal/image"
	"sigdetour/internal/intercept"
	"sigdetour/internal/memory"
	"sigdetour/internal/pattern"
	"sigdetour/internal/scan"
)

var (
	colorAddr   = color.New(color.Bold, color.FgHiCyan).SprintFunc()
	colorModule = color.New(color.FgHiBlue).SprintFunc()
	colorFaint  = color.New(color.Faint).SprintfFunc()
	colorBad    = color.New(color.FgRed).SprintFunc()
)

type scanTarget struct {
	mem     memory.Reader
	modules image.Locator
	closer  io.Closer
	regions func() ([]memory.Region, error)
}

// findProcess returns the pid of the first process called name.
func findProcess(name string) (int, error) {
	processes, err := process.Processes()
	if err != nil {
		return 0, err
	}

	for _, p := range processes {
		pname, err := p.Name()
		if err == nil && strings.EqualFold(pname, name) {
			return int(p.Pid), nil
		}
	}

	return 0, fmt.Errorf("process not found: %q", name)
}

func openScanTarget(file string, pid int, procName string) (*scanTarget, error) {
	if file != "" {
		f, err := image.OpenFile(file)
		if err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"file": file,
			"base": f.Module.Base.String(),
			"dll":  f.IsDLL(),
		}).Info("loaded image")

		return &scanTarget{mem: f.Mem, modules: f}, nil
	}

	if procName != "" {
		var err error
		pid, err = findProcess(procName)
		if err != nil {
			return nil, err
		}
	}

	if pid == 0 {
		return nil, errors.New("nothing to scan, use -file, -pid or -name")
	}

	p, err := memory.OpenProcess(pid)
	if err != nil {
		return nil, err
	}

	modules, err := image.ProcessModules(pid)
	if err != nil {
		p.Close()
		return nil, err
	}

	return &scanTarget{mem: p, modules: modules, closer: p, regions: p.Regions}, nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	file := fs.String("file", "", "PE file to scan")
	pid := fs.Int("pid", 0, "process id to scan")
	procName := fs.String("name", "", "process name to scan")
	module := fs.String("module", "", "module to scan, the executable when empty")
	steps := fs.String("steps", "", "resolution steps applied to the first match, e.g. \"add:3 deref\"")
	all := fs.Bool("all", false, "list every match")
	regions := fs.Bool("regions", false, "walk the memory regions of a process instead of a module")
	perm := fs.String("perm", "r-x", "permissions of the regions to walk, '-' matches anything")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: sigdetour scan [flags] PATTERN\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one pattern")
	}

	sig, err := intercept.NewSignature("scan", *module, fs.Arg(0), *steps)
	if err != nil {
		return err
	}

	t, err := openScanTarget(*file, *pid, *procName)
	if err != nil {
		return err
	}
	if t.closer != nil {
		defer t.closer.Close()
	}

	if *regions {
		return scanRegions(t, *perm, sig.Pattern)
	}

	m, err := image.Locate(t.modules, t.mem, *module)
	if err != nil {
		return err
	}

	name := *module
	if name == "" {
		name = "<main>"
	}
	fmt.Printf("%s base %s code %s\n", colorModule(name), colorAddr(m.Base), colorFaint("%s", m.Code()))

	if *all {
		matches, err := codeMatches(t.mem, m, sig.Pattern, 0)
		if err != nil {
			return err
		}
		for _, addr := range matches {
			fmt.Printf("  %s %s\n", colorAddr(addr), colorFaint("+0x%X", uintptr(addr-m.Base)))
		}
		if len(matches) == 0 {
			return scan.ErrNotFound
		}
		return nil
	}

	s := &scan.Scanner{Mem: t.mem, Modules: t.modules}
	addr, err := s.Module(*module, sig.Pattern)
	if err != nil {
		return err
	}
	fmt.Printf("  match %s %s\n", colorAddr(addr), colorFaint("+0x%X", uintptr(addr-m.Base)))

	if len(sig.Steps) > 0 {
		mode := 32
		if m.Is64 {
			mode = 64
		}

		target, err := sig.Resolve(t.mem, addr, mode)
		if err != nil {
			fmt.Printf("  %s\n", colorBad(err))
			return err
		}
		fmt.Printf("  resolved %s\n", colorAddr(target))
	}

	return nil
}

// scanRegions reports the first match in the mappings whose permissions
// match perm.
func scanRegions(t *scanTarget, perm string, p pattern.Pattern) error {
	if t.regions == nil {
		return errors.New("-regions needs a process, use -pid or -name")
	}

	regions, err := t.regions()
	if err != nil {
		return fmt.Errorf("cannot list regions: %w", err)
	}

	n := 0
	for _, r := range regions {
		if r.Readable() && r.MatchPerm(perm) {
			n++
		}
	}
	fmt.Printf("%s %d of %d regions\n", colorModule(perm), n, len(regions))

	addr, err := scan.FindInRegions(t.mem, regions, perm, p)
	if err != nil {
		return err
	}

	for _, r := range regions {
		if r.Contains(addr) {
			fmt.Printf("  match %s %s\n", colorAddr(addr), colorFaint("%s %s %s", r.Range, r.Perm, r.Path))
			break
		}
	}
	return nil
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: sigdetour compile PATTERN...\n")
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("expected a pattern")
	}

	var failed error
	for _, text := range fs.Args() {
		p, err := pattern.Parse(text)
		if err != nil {
			fmt.Printf("%s %s\n", colorBad("invalid"), err)
			failed = err
			continue
		}

		wild := 0
		for _, tok := range p.Tokens() {
			if tok.Wildcard {
				wild++
			}
		}
		fmt.Printf("%s %s\n", colorAddr(p.String()), colorFaint("(%d bytes, %d wildcards)", p.Len(), wild))
	}

	return failed
}

// vim: ai:ts=8:sw=8:noet:syntax=go
