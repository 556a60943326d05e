package manifest

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// AllowList は今回の実行で使ってよいテンプレートページ番号の並びなのだ。
type AllowList []int

// ParseAllowList はカンマ・空白区切りの番号リストを読み込むのだ。
// 全角カンマも区切りとして扱うのだ。
func ParseAllowList(r io.Reader) (AllowList, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("許可リストの読み込みに失敗しました: %w", err)
	}

	tokens := strings.FieldsFunc(string(data), func(c rune) bool {
		return c == ',' || c == '，' || c == ';' || unicode.IsSpace(c)
	})

	seen := make(map[int]struct{}, len(tokens))
	var out AllowList
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("許可リストに不正な番号があります: %q", tok)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("許可リストが空です")
	}
	return out, nil
}

// LoadAllowList はファイルから許可リストを読み込むのだ。
func LoadAllowList(path string) (AllowList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("許可リスト '%s' を開けません: %w", path, err)
	}
	defer f.Close()
	return ParseAllowList(f)
}

// Contains は番号が含まれるかを返すのだ。
func (a AllowList) Contains(n int) bool {
	for _, v := range a {
		if v == n {
			return true
		}
	}
	return false
}
