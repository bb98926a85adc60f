// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/sim/launch.go
// Summary: Exec-launch with pty capture feeding a window surface.

package sim

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/IcebergThings/railbridge/compositor"
	"github.com/IcebergThings/railbridge/geom"
)

const (
	ptyCols = 80
	ptyRows = 24

	launchWidth  = 480
	launchHeight = 320

	launchBackground = 0xFF101010
)

var errEmptyCmdline = errors.New("sim: empty command line")

// process is one pty-captured launch. The reader goroutine feeds
// captured output into the window through posted tasks and destroys
// the window when the program exits.
type process struct {
	comp *Compositor
	cmd  *exec.Cmd
	ptmx *os.File
	sur  *Surface

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (p *process) Pid() int { return p.cmd.Process.Pid }

// launch starts cmdline under a pty and materialises a window for it.
func (c *Compositor) launch(cmdline string) (compositor.Process, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return nil, errEmptyCmdline
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: ptyRows,
		Cols: ptyCols,
	})
	if err != nil {
		return nil, err
	}

	r := c.nextLaunchRect()
	sur := c.CreateSurface(compositor.RoleToplevel, filepath.Base(argv[0]), r)
	sur.appID = "railbridge.sim." + filepath.Base(argv[0])
	sur.imageName = argv[0]
	sur.pid = uint32(cmd.Process.Pid)
	sur.Paint(geom.Rect{W: r.W, H: r.H}, launchBackground)
	sur.Commit()

	pr := &process{
		comp: c,
		cmd:  cmd,
		ptmx: ptmx,
		sur:  sur,
		stop: make(chan struct{}),
	}
	c.shell.procs = append(c.shell.procs, pr)
	c.log.Info("process launched",
		zap.String("command", argv[0]),
		zap.Int("pid", cmd.Process.Pid))

	pr.wg.Add(1)
	go pr.readLoop()
	return pr, nil
}

func (c *Compositor) nextLaunchRect() geom.Rect {
	step := c.launchCount % 8
	c.launchCount++
	return geom.Rect{
		X: 120 + 48*step,
		Y: 90 + 36*step,
		W: launchWidth,
		H: launchHeight,
	}
}

func (p *process) readLoop() {
	defer p.wg.Done()
	buf := make([]byte, 4096)
read:
	for {
		select {
		case <-p.stop:
			break read
		default:
		}
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.comp.Post(func() { p.sur.feed(chunk) })
		}
		if err != nil {
			break
		}
	}
	p.ptmx.Close()
	p.cmd.Wait()
	p.comp.Post(func() { p.comp.processExited(p) })
}

// stopNow closes the pty and signals the program. The reader unblocks
// on the closed pty and runs the normal exit path.
func (p *process) stopNow() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.ptmx.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
}

// processExited tears the window down and forgets the process record.
func (c *Compositor) processExited(p *process) {
	for i, known := range c.shell.procs {
		if known == p {
			c.shell.procs = append(c.shell.procs[:i], c.shell.procs[i+1:]...)
			break
		}
	}
	c.log.Info("process exited",
		zap.String("title", p.sur.title),
		zap.Int("pid", p.cmd.Process.Pid))
	p.sur.Destroy()
}
