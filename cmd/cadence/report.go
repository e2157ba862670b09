package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/cadence/internal/api"
	"github.com/kalambet/cadence/internal/pipeline"
)

// confirmFor maps a --mode value to the confirm hook the engine runs before
// sending. Automation needs none.
func confirmFor(mode string) (pipeline.ConfirmFunc, error) {
	switch mode {
	case pipeline.ModeAutomation:
		return nil, nil
	case pipeline.ModeConfirm:
		return promptConfirm(os.Stdin, os.Stderr), nil
	}
	return nil, fmt.Errorf("unknown mode %q (want %s or %s)", mode, pipeline.ModeAutomation, pipeline.ModeConfirm)
}

// promptConfirm prints the batch and waits for y/N. Anything but y or yes,
// including end of input, declines.
func promptConfirm(in io.Reader, out io.Writer) pipeline.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, p *pipeline.Plan) (bool, error) {
		writePlan(out, api.NewPlanView(p))
		fmt.Fprintf(out, "Enroll %d lead(s)? [y/N] ", len(p.Assignments))

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func writePlan(w io.Writer, v api.PlanView) {
	fmt.Fprintf(w, "%s  %d lead(s) loaded\n", colorize(colorBold, "Plan at "+v.At), v.Loaded)
	if v.Replayed > 0 {
		fmt.Fprintf(w, "  re-applied %d journaled send(s)\n", v.Replayed)
	}

	if len(v.Assignments) == 0 {
		fmt.Fprintln(w, "  nothing due")
	}
	for _, a := range v.Assignments {
		fmt.Fprintf(w, "  %s  row %d  %s step %d (day %d)  campaign %s  template %s\n",
			colorize(colorCyan, a.Email), a.Row, a.Channel, a.ChannelStep, a.DayOffset, a.CampaignID, a.Template)
	}

	reasons := make([]string, 0, len(v.ExclusionCounts))
	for r := range v.ExclusionCounts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  excluded %-16s %d\n", r, v.ExclusionCounts[r])
	}

	for _, s := range v.Skipped {
		fmt.Fprintf(w, "  %s row %d %s: %s\n", colorize(colorYellow, "skipped"), s.Row, s.Email, s.Error)
	}

	emails := make([]string, 0, len(v.Duplicates))
	for e := range v.Duplicates {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	for _, e := range emails {
		rows := make([]string, len(v.Duplicates[e]))
		for i, r := range v.Duplicates[e] {
			rows[i] = fmt.Sprint(r)
		}
		fmt.Fprintf(w, "  %s %s on rows %s needs manual resolution\n",
			colorize(colorYellow, "duplicate"), e, strings.Join(rows, ", "))
	}
}

func writeCycle(w io.Writer, rep pipeline.CycleReport, err error) {
	line := fmt.Sprintf("cycle %s %s: loaded %d, eligible %d, sent %d, failed %d",
		shortID(rep.ID), rep.Status, rep.Loaded, rep.Eligible, rep.Sent, rep.Failed)
	if rep.JournalHits > 0 {
		line += fmt.Sprintf(", reapplied %d", rep.JournalHits)
	}
	switch {
	case err != nil:
		toneFail.fprint(w, "%s: %v", line, err)
	case rep.Failed > 0:
		toneWarn.fprint(w, "%s", line)
	default:
		toneOK.fprint(w, "%s", line)
	}
	if rep.Execution != nil {
		for _, f := range rep.Execution.Failed {
			fmt.Fprintf(w, "    %s: %v\n", f.Lead.String(), f.Err)
		}
	}
}

func writeCycles(w io.Writer, cycles []api.CycleView) {
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No cycles recorded.")
		return
	}
	for _, c := range cycles {
		fmt.Fprintf(w, "%s  %s  %-10s %-9s sent %d  failed %d  eligible %d  loaded %d\n",
			colorize(colorCyan, shortID(c.ID)), c.StartedAt, c.Mode, c.Status, c.Sent, c.Failed, c.Eligible, c.Loaded)
		if c.Error != "" {
			fmt.Fprintf(w, "          %s\n", colorize(colorRed, c.Error))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
