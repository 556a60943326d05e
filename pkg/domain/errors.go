package domain

import (
	"errors"
	"fmt"
	"strings"
)

// パイプライン境界を越えるエラーの種別なのだ。errors.Is で判定するのだ。
var (
	ErrUnresolvedTemplate   = errors.New("template not defined or not permitted")
	ErrNoAssignmentStrategy = errors.New("no markers and no planner enabled")
	ErrSchemaViolation      = errors.New("schema violation")
	ErrPlannerUnavailable   = errors.New("planner unavailable")
	ErrCompositing          = errors.New("compositing failed")
)

// kindNames は KindOf が照合する順番でもあるのだ。複数の種別を包むエラーは先に並ぶ方になるのだ。
var kindNames = []struct {
	kind error
	name string
}{
	{ErrUnresolvedTemplate, "UnresolvedTemplateError"},
	{ErrNoAssignmentStrategy, "NoAssignmentStrategyError"},
	{ErrSchemaViolation, "SchemaViolationError"},
	{ErrPlannerUnavailable, "PlannerUnavailableError"},
	{ErrCompositing, "CompositingError"},
}

// Violation はスキーマ検証で見つかった1件の違反です。
type Violation struct {
	Page            int    `json:"page"` // 契約内の 1 始まりの位置
	TemplatePageNum int    `json:"template_page_num"`
	Field           string `json:"field,omitempty"`
	Reason          string `json:"reason"`
}

func (v Violation) String() string {
	if v.Page == 0 && v.TemplatePageNum == 0 && v.Field == "" {
		return v.Reason
	}
	if v.Field == "" {
		return fmt.Sprintf("page %d (template %d): %s", v.Page, v.TemplatePageNum, v.Reason)
	}
	return fmt.Sprintf("page %d (template %d) field %q: %s", v.Page, v.TemplatePageNum, v.Field, v.Reason)
}

// PipelineError は種別と文脈（ページ、フィールド）を保持するエラーなのだ。
type PipelineError struct {
	Kind       error
	Page       int // テンプレートページ番号、不明なら 0
	Field      string
	Message    string
	Violations []Violation
	Err        error
}

func (e *PipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString(KindName(e.Kind))
	if e.Page > 0 {
		fmt.Fprintf(&sb, " [page %d]", e.Page)
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, " [field %s]", e.Field)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	for _, v := range e.Violations {
		sb.WriteString("\n  - ")
		sb.WriteString(v.String())
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap は種別と原因の両方を返すので、どちらも errors.Is で辿れるのだ。
func (e *PipelineError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindName は種別センチネルの表示名を返すのだ。
func KindName(kind error) string {
	for _, k := range kindNames {
		if k.kind == kind {
			return k.name
		}
	}
	return "Error"
}

// KindOf はエラーチェーンから種別名を取り出します。該当がなければ空文字なのだ。
func KindOf(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return ""
}

// NewUnresolvedTemplateError はテンプレート未定義・未許可のエラーを作るのだ。
func NewUnresolvedTemplateError(page int, format string, args ...any) error {
	return &PipelineError{Kind: ErrUnresolvedTemplate, Page: page, Message: fmt.Sprintf(format, args...)}
}

// NewSchemaViolationError は違反リストをまとめたエラーを作るのだ。
func NewSchemaViolationError(violations []Violation) error {
	e := &PipelineError{
		Kind:       ErrSchemaViolation,
		Message:    fmt.Sprintf("%d violation(s)", len(violations)),
		Violations: violations,
	}
	if len(violations) == 1 {
		e.Page = violations[0].TemplatePageNum
		e.Field = violations[0].Field
	}
	return e
}

// NewPlannerUnavailableError はプランナー呼び出しの失敗を包むのだ。
func NewPlannerUnavailableError(planner string, err error) error {
	return &PipelineError{Kind: ErrPlannerUnavailable, Message: planner, Err: err}
}

// NewCompositingError はテンプレートデッキとマニフェストの不整合を表すのだ。
func NewCompositingError(page int, field, message string) error {
	return &PipelineError{Kind: ErrCompositing, Page: page, Field: field, Message: message}
}

// ViolationsOf はエラーチェーンから違反リストを取り出すのだ。
func ViolationsOf(err error) []Violation {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Violations
	}
	return nil
}
