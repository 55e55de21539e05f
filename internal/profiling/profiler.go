// Package profiling writes CPU, heap, and execution trace profiles for a
// single CLI invocation.
package profiling

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// Options names the output file of each profile. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile is requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Session is a running set of profiles.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile
// is written by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := create(opts.CPU, "cpu")
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, profileError("start cpu profile", opts.CPU, err)
		}
		s.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := create(opts.Trace, "trace")
		if err == nil {
			if err = trace.Start(f); err != nil {
				_ = f.Close()
				err = profileError("start trace", opts.Trace, err)
			}
		}
		if err != nil {
			s.stopCPU()
			return nil, err
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends CPU profiling and tracing and writes the heap profile. Safe to
// call on a nil Session.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	var errs []error
	if err := s.stopCPU(); err != nil {
		errs = append(errs, err)
	}
	if s.traceFile != nil {
		trace.Stop()
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, profileError("close trace", s.opts.Trace, err))
		}
		s.traceFile = nil
	}
	if s.opts.Heap != "" {
		if err := WriteHeap(s.opts.Heap); err != nil {
			errs = append(errs, err)
		}
		s.opts.Heap = ""
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.cpuFile = nil
	if err != nil {
		return profileError("close cpu profile", s.opts.CPU, err)
	}
	return nil
}

// WriteHeap writes a heap profile to path after a GC.
func WriteHeap(path string) error {
	f, err := create(path, "heap")
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return profileError("write heap profile", path, err)
	}
	return nil
}

func create(path, kind string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "cannot create "+kind+" profile", err).
			WithDetail("path", path)
	}
	return f, nil
}

func profileError(op, path string, cause error) error {
	return amerrors.InternalError(op, cause).WithDetail("path", path)
}
