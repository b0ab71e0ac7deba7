package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thomasrohde/dplang/pkg/config"
	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/rowio"
	"github.com/thomasrohde/dplang/pkg/runtime"
)

type runFlags struct {
	input       string
	inputFormat string
	output      string
	format      string
	window      int
	partitionBy string
	workers     int
	pkgPaths    []string
	maxRows     int
	timeout     time.Duration
	trace       string
	sqlite      string
	sqliteTable string
	debug       bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [script.dp]",
		Short: "Run a script over input rows",
		Long: `Runs a script once per input row and writes the emitted rows.

Input is read from --input (or stdin) as CSV, a JSON array or NDJSON;
the format follows the file extension unless --input-format is given.
Output goes to --output (or stdout) as json, ndjson or csv. With
--partition-by, rows are grouped by that column and every group runs
in its own interpreter instance.

Examples:
  dplang run ma.dp --input prices.csv
  dplang run ma.dp -i prices.ndjson -f csv -o out.csv
  dplang run --config task.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "input file, - for stdin")
	fl.StringVar(&f.inputFormat, "input-format", "", "csv, json or ndjson (default: by extension)")
	fl.StringVarP(&f.output, "output", "o", "", "output file (default: stdout)")
	fl.StringVarP(&f.format, "format", "f", "", "output format: json, ndjson or csv")
	fl.IntVar(&f.window, "window", 0, "history rows kept per column")
	fl.StringVar(&f.partitionBy, "partition-by", "", "run one instance per value of this column")
	fl.IntVar(&f.workers, "workers", 0, "parallel partitions")
	fl.StringSliceVar(&f.pkgPaths, "package-path", nil, "directories searched for imported packages")
	fl.IntVar(&f.maxRows, "max-rows", 0, "stop after this many rows (0: no limit)")
	fl.DurationVar(&f.timeout, "timeout", 0, "stop the run after this long (0: no limit)")
	fl.StringVar(&f.trace, "trace", "", "write trace events as NDJSON to this file")
	fl.StringVar(&f.sqlite, "sqlite", "", "also write emitted rows to this SQLite database")
	fl.StringVar(&f.sqliteTable, "sqlite-table", "", "table for --sqlite")
	fl.BoolVar(&f.debug, "debug", false, "write print() output to stderr")
	return cmd
}

// merge copies the flags that were given onto the task settings.
func (f *runFlags) merge(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	t := &cfg.Task
	set("input", func() { t.Input = f.input })
	set("input-format", func() { t.InputFormat = f.inputFormat })
	set("output", func() { t.Output = f.output })
	set("format", func() { t.Format = f.format })
	set("window", func() { t.Window = f.window })
	set("partition-by", func() { t.PartitionBy = f.partitionBy })
	set("workers", func() { t.Workers = f.workers })
	set("package-path", func() { t.PackagePaths = f.pkgPaths })
	set("max-rows", func() { t.MaxRows = f.maxRows })
	set("timeout", func() { t.Timeout = config.Duration{Duration: f.timeout} })
	set("trace", func() { t.Trace = f.trace })
	set("sqlite", func() { cfg.Sink.SQLite.Path = f.sqlite })
	set("sqlite-table", func() { cfg.Sink.SQLite.Table = f.sqliteTable })
}

func (a *app) run(cmd *cobra.Command, args []string, f *runFlags) error {
	f.merge(cmd, a.cfg)
	if err := a.cfg.Validate(); err != nil {
		return a.fail(cmd, ExitUsage, configDiag(err))
	}
	task := a.cfg.Task

	script, err := a.scriptArg(args)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	source, filename, err := a.loadSource(cmd, script)
	if err != nil {
		return err
	}

	opts := []runtime.Option{
		runtime.WithLogger(a.logger),
		runtime.WithWindow(task.Window),
		runtime.WithPackagePaths(task.PackagePaths...),
		runtime.WithBudget(runtime.Budget{MaxRows: task.MaxRows, Timeout: task.Timeout.Duration}),
	}
	if f.debug {
		opts = append(opts, runtime.WithDebug(cmd.ErrOrStderr()))
	}
	if task.Trace != "" {
		tw, err := newTraceWriter(task.Trace)
		if err != nil {
			return a.fail(cmd, ExitUsage, ioDiag("cannot create trace file: %v", err))
		}
		defer tw.Close()
		opts = append(opts, runtime.WithTrace(tw.Write))
	}
	rt := runtime.New(opts...)

	prog, err := rt.Compile(source, filename)
	if err != nil {
		return a.failErr(cmd, err)
	}
	a.printDiagnostics(cmd.ErrOrStderr(), prog.Warnings())

	src, closeInput, err := a.openInput(cmd, task)
	if err != nil {
		return a.fail(cmd, ExitUsage, ioDiag("%v", err))
	}
	defer closeInput()

	sink, err := a.openOutput(cmd, task)
	if err != nil {
		return a.fail(cmd, ExitUsage, ioDiag("%v", err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := execute(ctx, prog, src, sink, task)
	if err := sink.Close(); err != nil && runErr == nil {
		return a.fail(cmd, ExitUsage, ioDiag("writing output: %v", err))
	}
	if runErr != nil {
		return a.failErr(cmd, runErr)
	}
	return nil
}

func execute(ctx context.Context, prog *runtime.Program, src rowio.Source, sink rowio.Writer, task config.Task) error {
	if task.PartitionBy != "" {
		rows, err := rowio.ReadAll(src)
		if err != nil {
			return err
		}
		out, err := runtime.RunPartitioned(ctx, prog, rows, task.PartitionBy, task.Workers)
		for _, row := range out {
			if werr := sink.Write(row); werr != nil {
				return werr
			}
		}
		return err
	}
	_, err := prog.NewInstance().Stream(ctx, src, sink.Write)
	return err
}

func (a *app) openInput(cmd *cobra.Command, task config.Task) (rowio.Source, func(), error) {
	var r io.Reader = cmd.InOrStdin()
	closeFn := func() {}
	if task.Input != "" && task.Input != "-" {
		file, err := os.Open(task.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read input: %w", err)
		}
		r = file
		closeFn = func() { _ = file.Close() }
	}

	format := rowio.FormatFromPath(task.Input)
	if task.InputFormat != "" {
		parsed, err := rowio.ParseFormat(task.InputFormat)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		format = parsed
	}
	src, err := rowio.NewReader(r, format)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return src, closeFn, nil
}

func (a *app) openOutput(cmd *cobra.Command, task config.Task) (rowio.Writer, error) {
	format := rowio.JSON
	if task.Format != "" {
		parsed, err := rowio.ParseFormat(task.Format)
		if err != nil {
			return nil, err
		}
		format = parsed
	}
	var w io.Writer = cmd.OutOrStdout()
	var file *os.File
	if task.Output != "" && task.Output != "-" {
		var err error
		file, err = os.Create(task.Output)
		if err != nil {
			return nil, fmt.Errorf("cannot create output: %w", err)
		}
		w = file
	}
	out, err := rowio.NewWriter(w, format)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, err
	}
	writers := multiWriter{out}
	if file != nil {
		writers = append(writers, closerWriter{file})
	}
	if path := a.cfg.Sink.SQLite.Path; path != "" {
		db, err := rowio.OpenSQLite(path, a.cfg.Sink.SQLite.Table)
		if err != nil {
			_ = writers.Close()
			return nil, err
		}
		writers = append(writers, db)
	}
	return writers, nil
}

// multiWriter fans rows out to several writers and closes them in order.
type multiWriter []rowio.Writer

func (m multiWriter) Write(row evaluator.Row) error {
	for _, w := range m {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (m multiWriter) Close() error {
	var first error
	for _, w := range m {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// closerWriter closes an output file after the format writer has flushed.
type closerWriter struct{ io.Closer }

func (closerWriter) Write(evaluator.Row) error { return nil }

// traceWriter appends trace events to a file as NDJSON. Partitioned runs
// emit from several goroutines.
type traceWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func newTraceWriter(path string) (*traceWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &traceWriter{file: file, enc: json.NewEncoder(file)}, nil
}

func (t *traceWriter) Write(ev evaluator.TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.enc.Encode(ev)
}

func (t *traceWriter) Close() error { return t.file.Close() }
