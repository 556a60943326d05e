package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// ErrNoContract はモデルの応答から JSON 契約を取り出せなかったときのエラーです。
var ErrNoContract = errors.New("no JSON contract in planner response")

// ExtractContract はモデルの生応答から JSON 契約を取り出すのだ。
// コードフェンスを外し、最初にデコードできた JSON 値を採用するのだ。
// ページ配列だけが返ってきた場合は ppt_pages として扱うのだ。
func ExtractContract(raw string) (domain.Contract, error) {
	text := stripCodeFence(raw)
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		var value json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&value); err != nil {
			continue
		}
		if c, ok := contractFromJSON(value); ok {
			return c, nil
		}
		// デコードできたが契約でない値は読み飛ばすのだ
		i += int(dec.InputOffset()) - 1
	}
	return domain.Contract{}, fmt.Errorf("%w: %s", ErrNoContract, preview(raw))
}

// MalformedFeedback は契約を取り出せなかった応答に対して、再依頼のプロンプトに添える違反を返すのだ。
// それ以外のエラーなら nil なのだ。
func MalformedFeedback(err error) []domain.Violation {
	if !errors.Is(err, ErrNoContract) {
		return nil
	}
	return []domain.Violation{{
		Reason: `previous response contained no parseable JSON contract; reply with exactly one {"ppt_pages": [...]} object and nothing else`,
	}}
}

func contractFromJSON(value json.RawMessage) (domain.Contract, bool) {
	value = bytes.TrimSpace(value)
	if len(value) > 0 && value[0] == '[' {
		var pages []domain.PageConfig
		if err := json.Unmarshal(value, &pages); err != nil {
			return domain.Contract{}, false
		}
		return domain.Contract{Pages: pages}, true
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(value, &probe); err != nil {
		return domain.Contract{}, false
	}
	if _, ok := probe["ppt_pages"]; !ok {
		return domain.Contract{}, false
	}
	var c domain.Contract
	if err := json.Unmarshal(value, &c); err != nil {
		return domain.Contract{}, false
	}
	return c, true
}

// stripCodeFence は ```json ... ``` で囲まれた部分があれば、その中身だけを返すのだ。
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func preview(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
