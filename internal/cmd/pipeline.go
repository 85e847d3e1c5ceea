package cmd

import (
	"context"
	"time"

	"ptywatch/internal/classify"
	"ptywatch/internal/config"
	"ptywatch/internal/exitcode"
	"ptywatch/internal/procinfo"
	"ptywatch/internal/rank"
	"ptywatch/internal/scan"
)

// scanOutcome is the result of one on-demand scan-classify-rank pass, shared
// by the show and clean commands.
type scanOutcome struct {
	res        *scan.Result
	cls        classify.Result
	meta       map[int]procinfo.Meta
	candidates []rank.Candidate
}

// runPipeline performs a fresh scan. For one-shot commands an enumeration
// failure is fatal; only the daemon treats it as recoverable.
func runPipeline(ctx context.Context, cfg *config.Config) (*scanOutcome, error) {
	scanner := scan.New(cfg.Scan.LsofPath, cfg.ScanTimeout())
	res, err := scanner.Scan(ctx)
	if err != nil {
		if scan.IsEnumerationError(err) {
			return nil, exitcode.EnumerationFailed(err)
		}
		return nil, err
	}

	classifier, err := classify.New(classify.Thresholds{
		Heavy:   cfg.Classify.HeavyThreshold,
		Runtime: cfg.Classify.RuntimeThreshold,
		Generic: cfg.Classify.GenericThreshold,
	}, cfg.Classify.AgentPattern, cfg.Classify.RuntimePattern)
	if err != nil {
		return nil, err
	}
	cls := classifier.Classify(res.Records)

	outcome := &scanOutcome{res: res, cls: cls}
	if len(cls.SuspectedLeaks) > 0 {
		pids := make([]int, len(cls.SuspectedLeaks))
		for i, leak := range cls.SuspectedLeaks {
			pids[i] = leak.Record.PID
		}
		// Metadata is best-effort; ranking degrades gracefully without it.
		meta, err := procinfo.NewPS().Lookup(ctx, pids)
		if err == nil {
			outcome.meta = meta
		}
		outcome.candidates = rank.Rank(cls.SuspectedLeaks, outcome.meta, cfg.Rank, time.Now())
	}
	return outcome, nil
}
