/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssargent/pgscrub/pkg/journal"
	"github.com/ssargent/pgscrub/pkg/metrics"
	"github.com/ssargent/pgscrub/pkg/obfuscate"
)

// runRequest describes one rewrite of an archive stream into an output file
type runRequest struct {
	command string
	source  string
	output  string
	// finish runs after the rewrite succeeded; an error discards the output
	finish func() error
}

func (e *env) execute(ctx context.Context, in io.Reader, req runRequest) (*obfuscate.Result, error) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	if addr := e.cfg.Metrics.Addr; addr != "" {
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := metrics.Serve(srvCtx, addr, metrics.NewRouter(reg)); err != nil {
				e.logger.Error("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
		e.logger.Info("serving metrics", "addr", addr)
	}

	run := &journal.Run{
		Command:   req.command,
		Source:    req.source,
		Output:    req.output,
		StartedAt: time.Now(),
	}

	res, err := e.rewrite(ctx, in, req, m)
	run.Complete(res, err, time.Now())
	e.record(run)
	return res, err
}

func (e *env) rewrite(ctx context.Context, in io.Reader, req runRequest, m *metrics.Metrics) (*obfuscate.Result, error) {
	artifact, err := e.container.CreateArtifact(req.output)
	if err != nil {
		return nil, err
	}

	res, err := obfuscate.ToArtifact(ctx, in, artifact, obfuscate.Options{
		Mappings:  e.cfg.Tables,
		Transform: e.cfg.TransformOptions(),
		Logger:    e.logger,
		Metrics:   m,
		RowBuffer: e.cfg.Obfuscation.RowBuffer,
	})
	if err != nil {
		return nil, err
	}
	if req.finish != nil {
		if err := req.finish(); err != nil {
			if abortErr := artifact.Abort(); abortErr != nil {
				e.logger.Warn("failed to remove output", "path", req.output, "error", abortErr)
			}
			return nil, err
		}
	}
	return res, nil
}

func (e *env) record(run *journal.Run) {
	if e.noJournal || e.cfg.Journal.Dir == "" {
		return
	}
	j, err := e.container.OpenJournal(e.cfg.Journal.Dir)
	if err != nil {
		e.logger.Warn("run not journaled", "error", err)
		return
	}
	defer j.Close()

	id, err := j.Record(run)
	if err != nil {
		e.logger.Warn("run not journaled", "error", err)
		return
	}
	e.logger.Debug("run journaled", "id", id.String(), "status", string(run.Status))
}

func printSummary(w io.Writer, output string, res *obfuscate.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DUMP ID\tTABLE\tMODE\tROWS\tOFFSET\tSIZE")
	for _, t := range res.Tables {
		rows := fmt.Sprint(t.Rows)
		if t.OmittedRows > 0 {
			rows = fmt.Sprintf("%d (%d omitted)", t.Rows, t.OmittedRows)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			t.DumpID, t.Table, t.Mode, rows, t.Offset, humanize.Bytes(uint64(t.Bytes)))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n✅ Wrote %s (%d tables, archive %s) to %s\n",
		humanize.Bytes(uint64(res.BytesWritten)), len(res.Tables), res.Version, output)
}
