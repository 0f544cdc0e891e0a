package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"chain-screening/internal/provider"
	"chain-screening/internal/risk"
)

// BatchOptions configure the batch command.
type BatchOptions struct {
	InputPath string
	CSVPath   string
	Chain     string
	Workers   int
}

// Batch screens every address in an input file and writes a CSV report.
// It fails when any address comes back BLOCK so callers can gate on the exit code.
func (a *App) Batch(ctx context.Context, opts BatchOptions) error {
	addresses, err := provider.LoadAddressList(opts.InputPath)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return errors.New("输入文件中没有地址")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	agg, closeAll, err := a.openAggregator(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	results := make([]risk.Result, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, address := range addresses {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = agg.ScreenAddress(gctx, address, opts.Chain, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if opts.CSVPath != "" {
		if err := ensureDir(opts.CSVPath); err != nil {
			return err
		}
		file, err := os.Create(opts.CSVPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	if err := writeResultsCSV(out, results); err != nil {
		return err
	}

	counts := map[risk.Decision]int{}
	for _, res := range results {
		counts[res.Decision]++
	}
	a.Logger.Info().
		Int("screened", len(results)).
		Int("approve", counts[risk.DecisionApprove]).
		Int("review", counts[risk.DecisionReview]).
		Int("block", counts[risk.DecisionBlock]).
		Msg("批量筛查完成")

	if counts[risk.DecisionBlock] > 0 {
		return fmt.Errorf("%d addresses blocked", counts[risk.DecisionBlock])
	}
	return nil
}

func writeResultsCSV(w io.Writer, results []risk.Result) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"address", "chain", "decision", "aggregate_risk_score", "highest_severity", "categories", "providers_succeeded", "providers_consulted", "blocklisted", "allowlisted", "result_id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		cats := make([]string, len(res.Categories))
		for i, c := range res.Categories {
			cats[i] = string(c)
		}
		record := []string{
			res.Address,
			res.Chain,
			res.Decision.String(),
			strconv.Itoa(res.AggregateRiskScore),
			res.HighestSeverity.String(),
			strings.Join(cats, ";"),
			strconv.Itoa(res.ProvidersSucceeded),
			strconv.Itoa(res.ProvidersConsulted),
			strconv.FormatBool(res.Blocklisted),
			strconv.FormatBool(res.Allowlisted),
			res.ID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
