// Process sweep for the executor.
//
// A program can leave its process group (setsid, double fork) and survive the
// group kill. After a timeout the sweep walks the process table with gopsutil
// and kills every process running the timed-out executable.
package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// commLen is the length the kernel truncates process names to.
const commLen = 15

// Sweeper kills processes that run a given executable.
type Sweeper interface {
	Sweep(ctx context.Context, executable string) (int, error)
}

// ProcessSweeper sweeps the host process table.
type ProcessSweeper struct {
	logger *slog.Logger
}

// NewProcessSweeper creates a sweeper with the given logger.
func NewProcessSweeper(logger *slog.Logger) *ProcessSweeper {
	return &ProcessSweeper{
		logger: logger.With(slog.String("component", "sweeper")),
	}
}

// Sweep kills every process, other than this one, whose executable path is
// executable or whose name matches its base name. It returns the number of
// processes signalled.
func (s *ProcessSweeper) Sweep(ctx context.Context, executable string) (int, error) {
	self := int32(os.Getpid())

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	base := filepath.Base(executable)
	killed := 0
	for _, p := range procs {
		if ctx.Err() != nil {
			return killed, ctx.Err()
		}
		if p.Pid == self || !s.matches(ctx, p, executable, base) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			// Already gone or not ours to kill
			continue
		}
		killed++
	}

	if killed > 0 {
		s.logger.Info("swept leftover processes",
			slog.String("executable", base),
			slog.Int("killed", killed),
		)
	}
	return killed, nil
}

func (s *ProcessSweeper) matches(ctx context.Context, p *process.Process, executable, base string) bool {
	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		return exe == executable || strings.TrimSuffix(exe, " (deleted)") == executable
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return false
	}
	if name == base {
		return true
	}
	return len(name) == commLen && strings.HasPrefix(base, name)
}
