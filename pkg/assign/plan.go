package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/parser"
	"github.com/shouni/go-slide-kit/pkg/planner"
)

// attemptResult はプランナー1回分の成果なのだ。
type attemptResult struct {
	pages           []domain.PageConfig
	warnings        []domain.Warning
	annotatedScript string
}

// assignWithPlanner はプランナーに割り当て案を依頼し、共通の検証経路を通すのだ。
// SchemaViolation と PlannerUnavailable だけが再依頼の対象で、回数は Retries で制限するのだ。
func (e *Engine) assignWithPlanner(ctx context.Context, in Input, res *Result) error {
	flow := e.opts.Flow
	rewriter, canRewrite := e.planner.(planner.ScriptRewriter)
	if flow == FlowRewrite && !canRewrite {
		slog.Warn("プランナーが中間稿の生成に対応していないため direct 手順で実行します", "planner", e.planner.Name())
		flow = FlowDirect
	}

	req := planner.Request{
		Blocks:       in.Blocks,
		Pages:        e.manifest.Allowed(),
		Images:       in.Images,
		Instructions: in.UserPrompt,
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("割り当てがキャンセルされました: %w", err)
		}
		res.Attempts++

		var (
			out attemptResult
			err error
		)
		if flow == FlowRewrite {
			out, err = e.rewriteAttempt(ctx, rewriter, req, in.Images)
		} else {
			out, err = e.planAttempt(ctx, req)
		}
		if err == nil {
			warnings := out.warnings
			validated, verr := e.finalize(out.pages, res.Metadata, in.Images, &warnings)
			if verr == nil {
				res.Contract = domain.Contract{Pages: validated}
				res.Warnings = warnings
				res.AnnotatedScript = out.annotatedScript
				return nil
			}
			err = verr
		}

		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("割り当てがキャンセルされました: %w", ctx.Err())
		case errors.Is(err, domain.ErrSchemaViolation):
			req.Violations = domain.ViolationsOf(err)
		case errors.Is(err, domain.ErrPlannerUnavailable):
			// 壊れた JSON なら直し方を添えて、通信の失敗なら何も添えずに再依頼するのだ
			req.Violations = planner.MalformedFeedback(err)
		default:
			return err
		}
		lastErr = err
		slog.Warn("プランナーの出力を採用できませんでした",
			"attempt", attempt+1,
			"max_attempts", e.opts.Retries+1,
			"kind", domain.KindOf(err),
			"error", err,
		)
	}
	return lastErr
}

// planAttempt は JSON 契約を直接生成させるのだ。
func (e *Engine) planAttempt(ctx context.Context, req planner.Request) (attemptResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.PlannerTimeout)
	defer cancel()

	contract, err := e.planner.Plan(callCtx, req)
	if err != nil {
		return attemptResult{}, domain.NewPlannerUnavailableError(e.planner.Name(), err)
	}
	if len(contract.Pages) == 0 {
		return attemptResult{}, domain.NewSchemaViolationError([]domain.Violation{{Reason: "planner returned no pages"}})
	}
	return attemptResult{pages: contract.Pages}, nil
}

// rewriteAttempt はマーカー付きの中間稿を書かせ、マーカー経路で埋めるのだ。
func (e *Engine) rewriteAttempt(ctx context.Context, rw planner.ScriptRewriter, req planner.Request, images *domain.ImageSet) (attemptResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.PlannerTimeout)
	defer cancel()

	text, err := rw.RewriteScript(callCtx, req)
	if err != nil {
		return attemptResult{}, domain.NewPlannerUnavailableError(e.planner.Name(), err)
	}

	seg := parser.ParseAnnotatedScript(text, images)
	if seg.HintedBlocks() == 0 {
		return attemptResult{}, domain.NewSchemaViolationError([]domain.Violation{{Reason: "rewritten script contains no page markers"}})
	}
	pages, warnings, err := e.fillFromMarkers(seg.Blocks, images)
	if err != nil {
		return attemptResult{}, err
	}
	return attemptResult{pages: pages, warnings: warnings, annotatedScript: text}, nil
}
